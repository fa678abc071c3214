//go:build !ffmpeg

package ffx

func Available() bool { return false }

// Register always fails without the ffmpeg build tag.
func Register() error { return ErrFFmpegNotAvailable }
