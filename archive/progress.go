package archive

// ProgressEvent represents a progress update during archive, copy, verify or
// unpack operations.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the file or volume currently being processed, if applicable.
	Path string

	// BytesDone is the number of content bytes completed so far.
	BytesDone uint64

	// BytesTotal is the total content bytes for the operation.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of items completed.
	FilesDone int

	// FilesTotal is the total number of items.
	// Zero indicates the total is unknown.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageWalking indicates the source tree is being walked.
	StageWalking ProgressStage = iota

	// StageChecking indicates the precheck is running.
	StageChecking

	// StageCompressing indicates volumes are being written.
	StageCompressing

	// StageCopying indicates files are being copied.
	StageCopying

	// StageVerifying indicates checksums are being recomputed.
	StageVerifying

	// StageExtracting indicates files are being extracted.
	StageExtracting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageWalking:
		return "walking"
	case StageChecking:
		return "checking"
	case StageCompressing:
		return "compressing"
	case StageCopying:
		return "copying"
	case StageVerifying:
		return "verifying"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) report(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}
