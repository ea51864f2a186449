package esltransport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	esshare "github.com/sammck-go/eventsocket/share"
)

// SSHDialer tunnels to the event socket through an ssh jump host, which is the
// usual way in since the socket tends to listen on loopback only.
type SSHDialer struct {
	// JumpHost is "user[:password]@host[:port]"; the port defaults to 22
	JumpHost string

	// Signer, when set, authenticates with a key in addition to any password
	Signer ssh.Signer

	// Fingerprint pins the jump host key. It is compared as a prefix of the
	// colon separated MD5 fingerprint; empty accepts any key.
	Fingerprint string

	Timeout time.Duration

	// Logger reports the fingerprint of the host key. Optional.
	Logger esshare.Logger
}

// DialContext implements Dialer. address is resolved by the jump host.
func (d *SSHDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	user, pass, hostPort := esshare.ParseUserHost(d.JumpHost, 22)
	var auth []ssh.AuthMethod
	if d.Signer != nil {
		auth = append(auth, ssh.PublicKeys(d.Signer))
	}
	if pass != "" {
		auth = append(auth, ssh.Password(pass))
	}
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: d.verifyHost,
		Timeout:         timeoutOrDefault(d.Timeout),
	}

	nd := &net.Dialer{Timeout: config.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("ssh jump host %s: %w", hostPort, err)
	}
	// bound the handshake by ctx as well as the timeout
	deadline := time.Now().Add(config.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostPort, config)
	stop()
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("ssh jump host %s: authentication failed: %w", hostPort, err)
		}
		return nil, fmt.Errorf("ssh jump host %s: %w", hostPort, err)
	}
	conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	tunnel, err := client.Dial("tcp", address)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh tunnel to %s via %s: %w", address, hostPort, err)
	}
	return &sshTunnelConn{Conn: tunnel, client: client}, nil
}

func (d *SSHDialer) verifyHost(hostname string, remote net.Addr, key ssh.PublicKey) error {
	got := esshare.FingerprintKey(key)
	if d.Fingerprint != "" && !strings.HasPrefix(got, d.Fingerprint) {
		return fmt.Errorf("invalid fingerprint (%s)", got)
	}
	if d.Logger != nil {
		d.Logger.DLogf("Jump host %s fingerprint %s", hostname, got)
	}
	return nil
}

// sshTunnelConn closes the ssh client along with the tunnelled connection
type sshTunnelConn struct {
	net.Conn
	client *ssh.Client
}

func (c *sshTunnelConn) Close() error {
	err := c.Conn.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
