package utils

import (
	"os"
	"runtime"
)

// DetectCapabilities probes the host and reports what workloads this node can
// take on. The list is sent once at enrollment; the cloud uses it to decide
// whether to route LLM-backed scoring here or keep the node on the static
// path.
func DetectCapabilities() []string {
	caps := []string{"schema_inference", "pii_redaction", "anomaly_detection", "candidate_matching"}

	if runtime.NumCPU() >= 4 {
		caps = append(caps, "parallel_scoring")
	}
	if hasLocalAccelerator() {
		caps = append(caps, "local_inference")
	}

	return caps
}

// DeviceOS reports the host OS the way the cloud expects it
func DeviceOS() string {
	return runtime.GOOS
}

// DeviceArch reports the host architecture
func DeviceArch() string {
	return runtime.GOARCH
}

// hasLocalAccelerator checks the common device nodes for a usable GPU or NPU.
// Best effort; a false negative just means scoring stays on the CPU.
func hasLocalAccelerator() bool {
	for _, path := range []string{"/dev/nvidia0", "/dev/kfd", "/dev/dri/renderD128"} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
