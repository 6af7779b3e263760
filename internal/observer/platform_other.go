//go:build !windows

package observer

func platformBackends() []Backend {
	return []Backend{
		NewX11Backend(""),
		NewATSPIBackend(),
	}
}
