// Package model provides the data structures shared between the pipeline package and its features.
// It defines the read-only description of a step handed to features,
// and the hook interface a feature implements to observe the lifecycle of a pipeline.
package model
