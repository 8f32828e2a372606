package message

import (
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
)

// Keypoint 是固定骨架词表中的一个关键点。
type Keypoint uint8

const (
	KeypointNose Keypoint = iota
	KeypointLeftEye
	KeypointRightEye
	KeypointLeftEar
	KeypointRightEar
	KeypointLeftShoulder
	KeypointRightShoulder
	KeypointLeftElbow
	KeypointRightElbow
	KeypointLeftWrist
	KeypointRightWrist
	KeypointLeftHip
	KeypointRightHip
	KeypointLeftKnee
	KeypointRightKnee
	KeypointLeftAnkle
	KeypointRightAnkle
	KeypointNeck

	// KeypointCount 为骨架词表大小。
	KeypointCount = int(KeypointNeck) + 1
)

var keypointNames = [KeypointCount]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
	"neck",
}

var keypointByName = func() map[string]Keypoint {
	m := make(map[string]Keypoint, KeypointCount)
	for i, name := range keypointNames {
		m[name] = Keypoint(i)
	}
	return m
}()

// LookupKeypoint 按名称查找关键点，名称不在词表中时返回 false。
func LookupKeypoint(name string) (Keypoint, bool) {
	kp, ok := keypointByName[name]
	return kp, ok
}

// KeypointNames 按词表顺序返回所有关键点名称。
func KeypointNames() []string {
	names := make([]string, KeypointCount)
	copy(names, keypointNames[:])
	return names
}

func (k Keypoint) Valid() bool {
	return int(k) < KeypointCount
}

func (k Keypoint) String() string {
	if !k.Valid() {
		return "invalid_keypoint"
	}
	return keypointNames[k]
}

// MarshalText 使关键点在 JSON 中以名称作为 map key。
func (k Keypoint) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, merr.WrapErrParameterInvalidMsg("keypoint %d out of vocabulary", uint8(k))
	}
	return []byte(keypointNames[k]), nil
}

func (k *Keypoint) UnmarshalText(text []byte) error {
	kp, ok := LookupKeypoint(string(text))
	if !ok {
		return merr.WrapErrParameterInvalidMsg("keypoint %q out of vocabulary", string(text))
	}
	*k = kp
	return nil
}
