package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// DirectTransport executes the privileged command in-process via a
// non-interactive sudo invocation: `sudo -n systemctl <action> <target>`
// for services, `sudo -n docker <action> <target>` for containers. Ported
// from RemoteControlApi.execute_action's command-building branch.
type DirectTransport struct{}

func NewDirectTransport() *DirectTransport { return &DirectTransport{} }

func (t *DirectTransport) Execute(ctx context.Context, targetType, action, target string) (ok bool, stdout, stderr string, returnCode int, err error) {
	var program string
	switch targetType {
	case "service":
		program = "systemctl"
	case "container":
		program = "docker"
	default:
		return false, "", "", -1, fmt.Errorf("direct transport: unknown target_type %q", targetType)
	}

	cmd := exec.CommandContext(ctx, "sudo", "-n", program, action, target)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	returnCode = -1
	if cmd.ProcessState != nil {
		returnCode = cmd.ProcessState.ExitCode()
	}
	ok = runErr == nil
	if runErr != nil && errBuf.Len() == 0 {
		errBuf.WriteString(runErr.Error())
	}
	return ok, outBuf.String(), errBuf.String(), returnCode, nil
}
