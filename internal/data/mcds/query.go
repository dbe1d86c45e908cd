package mcds

// IsInMesh reports whether the point lies inside the mesh bounding box,
// inclusive. An out-of-range coordinate is reported per axis; in strict
// mode it is an error.
func (s *Snapshot) IsInMesh(x, y, z float64) (bool, error) {
	if s.Mesh.Contains(x, y, z) {
		return true, nil
	}
	if s.opts.Strict {
		for i, v := range [3]float64{x, y, z} {
			r := s.Mesh.XYZRange[i]
			if v < r[0] || v > r[1] {
				return false, &RangeError{Axis: axisName(i), Value: v, Min: r[0], Max: r[1]}
			}
		}
	}
	return false, nil
}

// VoxelIJK maps a position to the indices of the voxel containing it via
// nearest-voxel rounding. ok is false when the point lies outside the mesh,
// in which case the indices are not computed.
func (s *Snapshot) VoxelIJK(x, y, z float64) (ijk [3]int, ok bool, err error) {
	inside, err := s.IsInMesh(x, y, z)
	if err != nil || !inside {
		return [3]int{}, false, err
	}
	ijk, err = s.Mesh.VoxelIJK(x, y, z)
	if err != nil {
		return [3]int{}, false, err
	}
	return ijk, true, nil
}
