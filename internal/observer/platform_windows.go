//go:build windows

package observer

func platformBackends() []Backend {
	return []Backend{NewWin32Backend()}
}
