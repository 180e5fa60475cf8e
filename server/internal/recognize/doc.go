// Package recognize turns raw inputs into stored predictions.
//
// Every path runs the same way: parse, preprocess, classify, then record the
// prediction in the history store and the metrics. A preprocessing failure
// ends the request before the classifier is called; callers can detect it
// with errors.Is(err, normalize.ErrPreprocessing).
package recognize
