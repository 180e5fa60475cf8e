// Package classify maps a preprocessed tensor to a character.
//
// A Classifier returns one score per class. ONNX runs an exported model with
// onnx-go; Simulated stands in when no model is configured and reproduces the
// demo behaviour (random class, confidence 0.70–1.00).
//
// Predictor pairs a Classifier with a label set, turns raw scores into
// probabilities when they are not already a distribution, and picks the
// highest-scoring label.
package classify
