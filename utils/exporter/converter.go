package exporter

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

func runFFmpeg(ffmpegPath string, args ...string) error {
	cmd := exec.Command(ffmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func removeOriginal(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete original file %s: %w", path, err)
	}
	return nil
}

func ConvertM2VToMP4(m2vFile string, mp4File string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFmpeg(ffmpegPath, "-i", m2vFile, "-c:v", "libx264", "-y", mp4File); err != nil {
		return fmt.Errorf("failed to convert M2V to MP4: %w", err)
	}
	if deleteOriginal {
		return removeOriginal(m2vFile)
	}
	return nil
}

func ConvertWavToFLAC(wavFile string, flacFile string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFmpeg(ffmpegPath, "-i", wavFile, "-compression_level", "12", "-y", flacFile); err != nil {
		return fmt.Errorf("failed to convert WAV to FLAC: %w", err)
	}
	if deleteOriginal {
		return removeOriginal(wavFile)
	}
	return nil
}

func ConvertWavToMP3(wavFile string, mp3File string, deleteOriginal bool, ffmpegPath string) error {
	if err := runFFmpeg(ffmpegPath, "-i", wavFile, "-b:a", "320k", "-y", mp3File); err != nil {
		return fmt.Errorf("failed to convert WAV to MP3: %w", err)
	}
	if deleteOriginal {
		return removeOriginal(wavFile)
	}
	return nil
}
