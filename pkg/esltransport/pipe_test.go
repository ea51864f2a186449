package esltransport

import (
	"io"
	"sync"
)

// pipe copies in both directions until both sides are done, half-closing the
// write side of each when its source ends, then closes both
func pipe(a, b io.ReadWriteCloser) {
	var wg sync.WaitGroup
	wg.Add(2)
	relay := func(dst, src io.ReadWriteCloser) {
		defer wg.Done()
		io.Copy(dst, src)
		if hc, ok := dst.(interface{ CloseWrite() error }); ok {
			hc.CloseWrite()
		}
	}
	go relay(a, b)
	go relay(b, a)
	wg.Wait()
	a.Close()
	b.Close()
}
