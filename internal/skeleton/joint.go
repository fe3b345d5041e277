package skeleton

import (
	"fmt"
	"strings"
)

// JointName indexes the fixed 32-joint body-tracking taxonomy.
type JointName int

const (
	JointPelvis JointName = iota
	JointSpineNavel
	JointSpineChest
	JointNeck
	JointClavicleLeft
	JointShoulderLeft
	JointElbowLeft
	JointWristLeft
	JointHandLeft
	JointHandtipLeft
	JointThumbLeft
	JointClavicleRight
	JointShoulderRight
	JointElbowRight
	JointWristRight
	JointHandRight
	JointHandtipRight
	JointThumbRight
	JointHipLeft
	JointKneeLeft
	JointAnkleLeft
	JointFootLeft
	JointHipRight
	JointKneeRight
	JointAnkleRight
	JointFootRight
	JointHead
	JointNose
	JointEyeLeft
	JointEarLeft
	JointEyeRight
	JointEarRight
)

// JointCount is the number of joints every observation must carry.
const JointCount = 32

var jointNames = [JointCount]string{
	"pelvis",
	"spine - navel",
	"spine - chest",
	"neck",
	"left clavicle",
	"left shoulder",
	"left elbow",
	"left wrist",
	"left hand",
	"left handtip",
	"left thumb",
	"right clavicle",
	"right shoulder",
	"right elbow",
	"right wrist",
	"right hand",
	"right handtip",
	"right thumb",
	"left hip",
	"left knee",
	"left ankle",
	"left foot",
	"right hip",
	"right knee",
	"right ankle",
	"right foot",
	"head",
	"nose",
	"left eye",
	"left ear",
	"right eye",
	"right ear",
}

// Valid reports whether j is inside the taxonomy.
func (j JointName) Valid() bool {
	return j >= 0 && j < JointCount
}

func (j JointName) String() string {
	if !j.Valid() {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// ParseJointName resolves a human joint name ("left clavicle") or its
// snake_case form ("clavicle_left", "spine_chest") to a JointName.
func ParseJointName(name string) (JointName, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, n := range jointNames {
		if n == want || snakeName(JointName(i)) == want {
			return JointName(i), nil
		}
	}
	return 0, fmt.Errorf("unknown joint name %q", name)
}

// snakeName renders "left clavicle" as "clavicle_left" and "spine - navel"
// as "spine_navel", matching the tracker SDK enum suffixes.
func snakeName(j JointName) string {
	n := jointNames[j]
	if strings.HasPrefix(n, "left ") {
		return strings.TrimPrefix(n, "left ") + "_left"
	}
	if strings.HasPrefix(n, "right ") {
		return strings.TrimPrefix(n, "right ") + "_right"
	}
	return strings.ReplaceAll(n, " - ", "_")
}

// DefaultKeyJoints are the anatomically stable joints used for identity
// matching.
var DefaultKeyJoints = []JointName{
	JointPelvis,
	JointSpineChest,
	JointSpineNavel,
	JointNeck,
	JointClavicleLeft,
	JointClavicleRight,
}
