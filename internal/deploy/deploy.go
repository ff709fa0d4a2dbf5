// Package deploy drives the external workload effector (spec §1,
// §4.7): it writes a config file for cmd/vpcctl-workload and launches
// it detached inside a subnet's namespace via the Driver's Exec
// primitive. Idempotence of redeploying onto the same port is
// explicitly left to the effector (spec §9 open question #3).
package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vpcctl/vpcctl/cmd/vpcctl-workload/config"
	"github.com/vpcctl/vpcctl/internal/driver"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// binaryName is the executable the effector looks for on PATH. It is a
// separate built binary (cmd/vpcctl-workload), not a library call, so
// that it runs as its own process inside the target namespace.
const binaryName = "vpcctl-workload"

// Deploy writes a workload config under configDir and launches
// vpcctl-workload inside namespace ns, detached, listening on port and
// serving the canned response for kind ("nginx" or "python").
func Deploy(d driver.Driver, configDir, ns string, port uint16, kind string) error {
	if kind != "nginx" && kind != "python" {
		return vpcerr.Validationf("unknown workload type %q (expected nginx or python)", kind)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return vpcerr.IOf(err, "failed to create workload config directory %s", configDir)
	}

	cfg := config.WorkloadConfig{
		Port:    port,
		Kind:    kind,
		LogFile: filepath.Join(configDir, fmt.Sprintf("%s-%d.log", ns, port)),
		PidFile: filepath.Join(configDir, fmt.Sprintf("%s-%d.pid", ns, port)),
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return vpcerr.IOf(err, "failed to marshal workload config")
	}
	configPath := filepath.Join(configDir, fmt.Sprintf("%s-%d.conf", ns, port))
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return vpcerr.IOf(err, "failed to write workload config %s", configPath)
	}

	argv := []string{binaryName, "-c", configPath}
	if err := d.Exec(ns, argv); err != nil {
		return vpcerr.Driverf(err, "failed to launch workload in namespace %s", ns)
	}
	return nil
}
