package embedding

import (
	"os"
	"runtime"
)

// selectDevice picks the accelerator hint passed to the local inference
// backend. CUDA wins when a GPU is visible, Apple silicon falls back to
// Metal, everything else runs on CPU.
func selectDevice() string {
	if os.Getenv("CUDA_VISIBLE_DEVICES") != "" {
		return "cuda"
	}
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return "cuda"
	}
	if runtime.GOOS == "darwin" {
		return "mps"
	}
	return "cpu"
}
