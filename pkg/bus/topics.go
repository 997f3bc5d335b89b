package bus

import (
	"fmt"
	"strings"
)

// DefaultPrefix namespaces every topic of the face node.
const DefaultPrefix = "/face_recognition"

// TopicColorImage is the RGB camera stream.
// Subscribes: image messages in the configured rgb encoding
const TopicColorImage = "color_image"

// TopicIRImage is the infrared camera stream.
// Subscribes: image messages in the configured ir encoding
const TopicIRImage = "ir_image"

// TopicDepthImage is the depth camera stream, aligned with the color stream.
// Subscribes: image messages in the configured depth encoding
const TopicDepthImage = "depth_image"

// TopicFacesImages carries the cropped faces of one cycle.
// Publishes: faces messages
const TopicFacesImages = "faces_images"

// TopicDetectedFaces carries the color frame with emitted faces outlined.
// Publishes: image messages
const TopicDetectedFaces = "detected_faces"

// TopicAnyDetection reports whether the detector found anything.
// Publishes: bool messages, one per cycle
const TopicAnyDetection = "any_detection"

// Topics is a helper to build fully-qualified topic names.
type Topics struct {
	prefix string
}

// NewTopics creates a Topics helper with the given prefix.
// An empty prefix leaves names rooted at "/".
func NewTopics(prefix string) *Topics {
	return &Topics{prefix: strings.TrimSuffix(prefix, "/")}
}

// Prefix returns the namespace prefix.
func (t *Topics) Prefix() string {
	return t.prefix
}

// Name returns the full path of a topic under the prefix.
func (t *Topics) Name(topic string) string {
	return fmt.Sprintf("%s/%s", t.prefix, strings.TrimPrefix(topic, "/"))
}

// ColorImage returns the full color image topic path.
func (t *Topics) ColorImage() string {
	return t.Name(TopicColorImage)
}

// IRImage returns the full IR image topic path.
func (t *Topics) IRImage() string {
	return t.Name(TopicIRImage)
}

// DepthImage returns the full depth image topic path.
func (t *Topics) DepthImage() string {
	return t.Name(TopicDepthImage)
}

// FacesImages returns the full faces topic path.
func (t *Topics) FacesImages() string {
	return t.Name(TopicFacesImages)
}

// DetectedFaces returns the full annotated frame topic path.
func (t *Topics) DetectedFaces() string {
	return t.Name(TopicDetectedFaces)
}

// AnyDetection returns the full detection flag topic path.
func (t *Topics) AnyDetection() string {
	return t.Name(TopicAnyDetection)
}

// normalizeTopic turns a URL wildcard capture into a topic path.
func normalizeTopic(raw string) string {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return ""
	}
	return "/" + raw
}
