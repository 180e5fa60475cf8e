// Package normalize turns a raw, variable-length IMU series into the
// fixed-shape tensor the character classifier expects.
//
// Normalize(series) runs, in order:
//
//	channel padding   width ≤ 6 is right-padded with zeros to Channels (10)
//	truncation        rows past MaxLen (50) are discarded
//	NaN imputation    per-channel median ignoring NaNs
//	robust scaling    (v − p05) / (p95 − p05), a zero range scales by 1
//	clipping          to [−Clip, Clip] (5)
//	zero padding      short series get literal zero rows up to MaxLen
//	batch dimension   result shape is (1, MaxLen, Channels), float32
//
// Percentiles use linear interpolation between closest ranks. Only NaN is
// imputed; ±Inf flows into scaling and is bounded by clipping.
//
// Every failure, including panics from the numeric code, is returned as an
// *Error that matches ErrPreprocessing under errors.Is. The input series is
// never modified.
//
// ParseSeries / ReadFile read the comma-separated recording format written by
// the collector and pad short rows to six values.
package normalize
