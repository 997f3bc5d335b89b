package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACENODE_"

// ApplyEnv applies FACENODE_* environment overrides.
// Call this after Load and before applying flags.
func (f *File) ApplyEnv() error {
	n := &f.Node
	d := &f.Detector

	strs := []struct {
		key string
		dst *string
	}{
		{"NAMESPACE", &n.Namespace},
		{"RGB_IMAGE_ENCODING", &n.RGBImageEncoding},
		{"IR_IMAGE_ENCODING", &n.IRImageEncoding},
		{"DEPTH_IMAGE_ENCODING", &n.DepthImageEncoding},
		{"DETECTOR", &d.Backend},
		{"MODEL", &d.ModelPath},
		{"CASCADE", &d.CascadePath},
		{"ADDR", &f.Server.Addr},
		{"LOG_LEVEL", &f.Log.Level},
	}
	for _, s := range strs {
		if v := os.Getenv(EnvPrefix + s.key); v != "" {
			*s.dst = v
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"RGB_CAMERA", &n.RGBCamera},
		{"DEPTH_CAMERA", &n.DepthCamera},
		{"IR_CAMERA", &n.IRCamera},
		{"MULTIPLE_DETECTION", &n.MultipleDetection},
		{"SHOW_DETECTION", &n.ShowDetection},
		{"INFORM_DETECTION", &n.InformDetection},
		{"DEBUG", &f.Log.Debug},
	}
	for _, b := range bools {
		if err := envBool(b.key, b.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ROTATION_CYCLES", &n.RotationCycles},
		{"MIN_AREA", &n.MinArea},
		{"QUEUE_SIZE", &f.Server.QueueSize},
	}
	for _, i := range ints {
		if err := envInt(i.key, i.dst); err != nil {
			return err
		}
	}

	return envFloat("CONFIDENCE", &d.ConfidenceThresh)
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return &Error{Field: EnvPrefix + key, Message: fmt.Sprintf("invalid boolean %q", v)}
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return &Error{Field: EnvPrefix + key, Message: fmt.Sprintf("invalid integer %q", v)}
	}
	*dst = i
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return &Error{Field: EnvPrefix + key, Message: fmt.Sprintf("invalid number %q", v)}
	}
	*dst = x
	return nil
}

// RobotIP returns the robot IP from ROBOT_IP env var.
// Falls back to the provided default if not set.
func RobotIP(defaultIP string) string {
	if ip := os.Getenv("ROBOT_IP"); ip != "" {
		return ip
	}
	return defaultIP
}
