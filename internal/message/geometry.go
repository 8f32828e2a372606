package message

// Point2 是归一化到 [0, 1] 的二维图像坐标。
type Point2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Point3 是以米为单位的三维世界坐标。
type Point3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// BoundingBox 是由左上角与右下角确定的矩形框。
type BoundingBox struct {
	TopLeft     Point2 `json:"top_left"`
	BottomRight Point2 `json:"bottom_right"`
}

// Valid 要求左上角在两个方向上都不大于右下角。
func (b BoundingBox) Valid() bool {
	return b.TopLeft.X <= b.BottomRight.X && b.TopLeft.Y <= b.BottomRight.Y
}
