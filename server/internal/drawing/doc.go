// Package drawing prepares a hand-drawn character image for the image
// classifier: grayscale, resize, invert, scale to [0, 1], shape
// (1, size, size, 1).
//
// Decode accepts PNG, JPEG, GIF and BMP uploads; anything undecodable is a
// normalize.ErrPreprocessing failure so callers treat it like bad IMU input.
package drawing
