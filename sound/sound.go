package sound

// Player defines the interface for audio playback
type Player interface {
	// Initialize initializes the audio playback system
	Initialize() error

	// Terminate terminates the audio playback system
	Terminate()

	// Open opens the output stream with configured parameters
	Open() error

	// Close closes the output stream
	Close() error

	// Write plays one buffer of 16-bit little-endian PCM, blocking until the
	// device has accepted it.
	Write(pcm []byte) error

	// Flush plays whatever Write held back, padded with silence.
	Flush() error

	// Reset discards samples held back from a previous Write.
	Reset()
}
