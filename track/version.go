package track

// Version is the engine version string.
const Version = "0.1.0"

// Info describes the engine build for reporting collaborators that embed it
// in their output.
type Info struct {
	// Version is the engine version string.
	Version string

	// CycleAlgorithm names the cycle detection algorithm used.
	CycleAlgorithm string
}

// GetInfo returns information about the engine.
//
// Example:
//
//	info := track.GetInfo()
//	fmt.Printf("alloctrack %s (%s)\n", info.Version, info.CycleAlgorithm)
func GetInfo() Info {
	return Info{
		Version:        Version,
		CycleAlgorithm: "iterative DFS over clone graph",
	}
}
