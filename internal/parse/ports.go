// Package parse decodes values crossing the system boundary: the vendor
// port-status array and the HH:mm clock strings used by the alert window.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"charging-alert-backend/internal/model"
)

// ports[0] is a placeholder the vendor always sends; real sockets start
// at ports[1]. Port values only distinguish free from occupied; a
// hardware fault is signalled device-wide through machineFault.
const portFree = 0

// Ports converts the vendor's raw port reading into socket snapshots.
// totalPorts is the station's declared port count; ports missing from
// the array are assumed available, matching the vendor's convention for
// trailing unreported sockets. A non-zero machineFault marks every
// socket on the station as faulting.
func Ports(ports []int, totalPorts int, machineFault int) []model.Socket {
	sockets := make([]model.Socket, 0, totalPorts)
	if machineFault != 0 {
		for i := 0; i < totalPorts; i++ {
			sockets = append(sockets, model.Socket{ID: i + 1, Status: model.StatusFault})
		}
		return sockets
	}

	var raw []int
	if len(ports) > 1 {
		raw = ports[1:]
	}
	for i := 0; i < totalPorts && i < len(raw); i++ {
		status := model.StatusOccupied
		if raw[i] == portFree {
			status = model.StatusAvailable
		}
		sockets = append(sockets, model.Socket{ID: i + 1, Status: status})
	}
	for i := len(raw); i < totalPorts; i++ {
		sockets = append(sockets, model.Socket{ID: i + 1, Status: model.StatusAvailable})
	}
	return sockets
}

var hhmmRe = regexp.MustCompile(`^([0-1]\d|2[0-3]):([0-5]\d)$`)

// MinutesOfDay parses an HH:mm clock string into minutes since midnight.
func MinutesOfDay(hhmm string) (int, error) {
	if !hhmmRe.MatchString(hhmm) {
		return 0, fmt.Errorf("invalid HH:mm time %q", hhmm)
	}
	parts := strings.SplitN(hhmm, ":", 2)
	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])
	return hour*60 + minute, nil
}
