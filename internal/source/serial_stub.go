//go:build !linux

package source

import "fmt"

func openSerial(path string, baud int) (serialPort, error) {
	return nil, fmt.Errorf("serial devices not supported on this platform")
}
