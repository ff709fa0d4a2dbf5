// Package config defines the JSON configuration passed to vpcctl-workload
// via its "-c" flag, mirroring the shape of the reference httpsrv's
// HttpSrvConfig (sdn/vm/cmd/httpsrv/config).
package config

// WorkloadConfig configures one vpcctl-workload instance: a single
// canned HTTP responder standing in for the real nginx/python images
// a cloud VPC would run (spec §1 "workload deployer").
type WorkloadConfig struct {
	// ListenIP is the address to bind; empty means all interfaces.
	ListenIP string `json:"listenIP"`
	// Port is the TCP port to listen on.
	Port uint16 `json:"port"`
	// Kind selects the canned response: "nginx" or "python" (both HTML).
	Kind string `json:"kind"`
	// LogFile, if set, redirects the workload's own logrus output.
	LogFile string `json:"logFile"`
	// PidFile, if set, receives the process PID on startup.
	PidFile string `json:"pidFile"`
}
