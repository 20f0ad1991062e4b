package utils

import "os/exec"

// CheckFFmpeg verifies the ffmpeg binary is present and runnable.
func CheckFFmpeg(ffmpeg string) error {
	checkffmpeg := exec.Command(ffmpeg, "-h")
	_, err := checkffmpeg.Output()
	if err != nil {
		return err
	}
	return nil
}
