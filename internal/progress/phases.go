package progress

// Phase maps a recognizable marker in the status stream to a progress
// percentage. Matching is case-insensitive substring, in table order.
type Phase struct {
	Marker  string // matched against lowercased lines
	Percent int
	Step    string // human-readable description stored on the job
}

// ReconPhases is the stage table for recon-all style status logs. The
// percentages are cumulative estimates of wall-clock share; the final
// banner stops short of 100, which is reserved for the completed state.
var ReconPhases = []Phase{
	{Marker: "motioncor", Percent: 5, Step: "motion correction"},
	{Marker: "talairach", Percent: 10, Step: "talairach registration"},
	{Marker: "nu intensity correction", Percent: 15, Step: "intensity correction"},
	{Marker: "skullstrip", Percent: 22, Step: "skull stripping"},
	{Marker: "ca reg", Percent: 30, Step: "atlas registration"},
	{Marker: "subcort seg", Percent: 40, Step: "subcortical segmentation"},
	{Marker: "wm segmentation", Percent: 50, Step: "white matter segmentation"},
	{Marker: "make white surfaces", Percent: 60, Step: "white surface generation"},
	{Marker: "make pial surfaces", Percent: 72, Step: "pial surface generation"},
	{Marker: "cortical parc", Percent: 82, Step: "cortical parcellation"},
	{Marker: "parcellation stats", Percent: 90, Step: "parcellation statistics"},
	{Marker: "aparc2aseg", Percent: 95, Step: "volume labeling"},
	{Marker: "finished without error", Percent: 98, Step: "finalizing"},
}
