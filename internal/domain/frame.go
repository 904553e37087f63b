package domain

// FrameMetadata describes the device state a screencast frame was taken in.
type FrameMetadata struct {
	OffsetTop       float64  `json:"offsetTop"`
	PageScaleFactor float64  `json:"pageScaleFactor"`
	DeviceWidth     float64  `json:"deviceWidth"`
	DeviceHeight    float64  `json:"deviceHeight"`
	ScrollOffsetX   float64  `json:"scrollOffsetX"`
	ScrollOffsetY   float64  `json:"scrollOffsetY"`
	Timestamp       *float64 `json:"timestamp,omitempty"`
}

// Frame is one screencast frame. Data is the base64-encoded image and
// SessionID is the frame number the driver expects to be acknowledged.
type Frame struct {
	Data      string        `json:"data"`
	Metadata  FrameMetadata `json:"metadata"`
	SessionID int64         `json:"sessionId"`
}
