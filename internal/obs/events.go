package obs

// MediaEvent is a normalised playback event token for the configured media
// input. The playback monitor consumes these in arrival order.
type MediaEvent string

const (
	// MediaStarted means the media input began playing a file.
	MediaStarted MediaEvent = "started"
	// MediaEnded means the media input finished a file.
	MediaEnded MediaEvent = "ended"
)
