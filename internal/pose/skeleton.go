package pose

import (
	"errors"
	"fmt"
	"sort"
)

// Anchors holds the joint ids used to center a frame on the torso.
type Anchors struct {
	LeftShoulder  int
	RightShoulder int
	LeftHip       int
	RightHip      int
}

// Skeleton is the fixed undirected bone graph over joint ids.
// It is constant for the lifetime of a session.
type Skeleton struct {
	Name    string
	Joints  []string
	Bones   [][2]int
	Anchors Anchors
}

// JointCount returns N, the number of joints in the topology.
func (s Skeleton) JointCount() int {
	return len(s.Joints)
}

// Validate checks that every bone and anchor references a known joint.
func (s Skeleton) Validate() error {
	n := len(s.Joints)
	if n == 0 {
		return errors.New("skeleton has no joints")
	}
	for i, b := range s.Bones {
		if b[0] < 0 || b[0] >= n || b[1] < 0 || b[1] >= n {
			return fmt.Errorf("bone %d (%d-%d) references a joint outside [0,%d)", i, b[0], b[1], n)
		}
		if b[0] == b[1] {
			return fmt.Errorf("bone %d connects joint %d to itself", i, b[0])
		}
	}
	for _, id := range []int{s.Anchors.LeftShoulder, s.Anchors.RightShoulder, s.Anchors.LeftHip, s.Anchors.RightHip} {
		if id < 0 || id >= n {
			return fmt.Errorf("anchor joint %d outside [0,%d)", id, n)
		}
	}
	return nil
}

// Neighbors returns the sorted adjacency list of every joint.
func (s Skeleton) Neighbors() [][]int {
	adj := make([]map[int]struct{}, len(s.Joints))
	for i := range adj {
		adj[i] = make(map[int]struct{})
	}
	for _, b := range s.Bones {
		adj[b[0]][b[1]] = struct{}{}
		adj[b[1]][b[0]] = struct{}{}
	}
	out := make([][]int, len(s.Joints))
	for i, set := range adj {
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		out[i] = ids
	}
	return out
}

// JointID returns the id of a named joint.
func (s Skeleton) JointID(name string) (int, bool) {
	for i, n := range s.Joints {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

var blazePoseJoints = []string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

var blazePoseBones = [][2]int{
	{0, 1}, {0, 4}, {1, 2}, {2, 3}, {3, 7}, {4, 5}, {5, 6}, {6, 8},
	{9, 10}, {11, 12}, {11, 13}, {11, 23}, {12, 14}, {14, 16}, {12, 24},
	{13, 15}, {15, 17}, {16, 18}, {16, 20}, {15, 21}, {16, 22}, {17, 19},
	{18, 20}, {23, 25}, {23, 24}, {24, 26}, {25, 27}, {26, 28}, {27, 29},
	{28, 30}, {27, 31}, {28, 32}, {29, 31}, {30, 32},
}

// BlazePose returns the 33-keypoint BlazePose topology.
func BlazePose() Skeleton {
	joints := make([]string, len(blazePoseJoints))
	copy(joints, blazePoseJoints)
	bones := make([][2]int, len(blazePoseBones))
	copy(bones, blazePoseBones)
	return Skeleton{
		Name:   "blazepose",
		Joints: joints,
		Bones:  bones,
		Anchors: Anchors{
			LeftShoulder:  11,
			RightShoulder: 12,
			LeftHip:       23,
			RightHip:      24,
		},
	}
}

// SkeletonByName resolves a configured topology name.
func SkeletonByName(name string) (Skeleton, error) {
	switch name {
	case "", "blazepose":
		return BlazePose(), nil
	default:
		return Skeleton{}, fmt.Errorf("unknown skeleton %q", name)
	}
}
