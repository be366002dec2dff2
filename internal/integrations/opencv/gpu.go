package opencv

import (
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// selectBackend wählt Backend und Target für das DNN-Netz
func selectBackend(useGPU bool) (gocv.NetBackendType, gocv.NetTargetType) {
	if !useGPU {
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
	if haveNvidiaGPU() {
		log.Info("NVIDIA GPU erkannt, verwende CUDA-Backend")
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	log.Warn("GPU-Nutzung aktiviert, aber keine unterstützte GPU erkannt. Verwende CPU.")
	return gocv.NetBackendDefault, gocv.NetTargetCPU
}

// haveNvidiaGPU prüft, ob eine NVIDIA-GPU verfügbar ist
func haveNvidiaGPU() bool {
	if os.Getenv("NVIDIA_VISIBLE_DEVICES") != "" || os.Getenv("NVIDIA_DRIVER_CAPABILITIES") != "" {
		return true
	}

	paths := []string{
		"/usr/local/cuda/lib64/libcudart.so",
		"/usr/lib/x86_64-linux-gnu/libcuda.so",
		"/usr/lib/libcuda.so",
	}
	if runtime.GOOS == "linux" {
		paths = append(paths, "/usr/bin/nvidia-smi", "/usr/local/bin/nvidia-smi")
	}
	for _, p := range paths {
		if fileExists(p) {
			log.Debugf("CUDA-Hinweis gefunden: %s", p)
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
