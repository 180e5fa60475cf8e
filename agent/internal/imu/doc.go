// Package imu produces six-channel IMU samples (accel x/y/z, gyro x/y/z) for
// the agent to ship.
//
// New(cfg) returns the Reader for cfg.Type:
//   - simulated: a slow figure-eight pen stroke with Gaussian noise
//   - replay   : rows of a recorded imu_data_*.txt file, looped forever
//
// Both readers are paced at cfg.RateHz and block in Read until the next
// sample is due or ctx is cancelled.
package imu
