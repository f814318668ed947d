package offload

import (
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/metrics"
)

// Transport is the remote-filesystem capability the orchestrator
// consumes; SSHTransport is the production implementation and tests
// substitute in-memory fakes.
type Transport interface {
	// TestConnection probes the server. quick uses the short startup
	// deadline so a dead server fails fast.
	TestConnection(quick bool) error

	MkdirAll(remotePath string) error
	// ClearDir removes the contents of remotePath, keeping the
	// directory itself.
	ClearDir(remotePath string) error
	UploadFile(localPath, remotePath string) error
	// UploadDir mirrors localDir under remoteDir file-for-file.
	UploadDir(localDir, remoteDir string) error
	// DownloadDir recursively fetches remoteDir into localDir.
	DownloadDir(remoteDir, localDir string) (files int, err error)
	// DirExists runs the remote existence check used as the training
	// completion fallback.
	DirExists(remotePath string) (bool, error)
	Close()
}

// QuickProbeTimeout bounds the startup connection probe. A slow
// failure here delays operator feedback, which is worse than a false
// negative.
const QuickProbeTimeout = 5 * time.Second

const normalTimeout = 30 * time.Second

// SSHEndpoint identifies one SSH server.
type SSHEndpoint struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Addr returns host:port.
func (e SSHEndpoint) Addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// SSHTransport implements Transport over one SSH connection with an
// SFTP subsystem.
type SSHTransport struct {
	endpoint SSHEndpoint
	logger   zerolog.Logger

	client *ssh.Client
	sftp   *sftp.Client
}

// NewSSHTransport creates an unconnected transport.
func NewSSHTransport(endpoint SSHEndpoint) *SSHTransport {
	return &SSHTransport{endpoint: endpoint, logger: log.WithComponent("offload-ssh")}
}

func (t *SSHTransport) dial(timeout time.Duration) error {
	if t.client != nil {
		return nil
	}
	cfg := &ssh.ClientConfig{
		User:            t.endpoint.User,
		Auth:            []ssh.AuthMethod{ssh.Password(t.endpoint.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // LAN edge server, key rotation is operator-managed
		Timeout:         timeout,
	}
	client, err := ssh.Dial("tcp", t.endpoint.Addr(), cfg)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", t.endpoint.Addr(), err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("sftp session %s: %w", t.endpoint.Addr(), err)
	}
	t.client = client
	t.sftp = sftpClient
	return nil
}

func (t *SSHTransport) TestConnection(quick bool) error {
	timeout := normalTimeout
	if quick {
		timeout = QuickProbeTimeout
	}
	if err := t.dial(timeout); err != nil {
		return err
	}
	out, err := t.runCommand("echo SSH_OK")
	if err != nil {
		return err
	}
	if !strings.Contains(out, "SSH_OK") {
		return fmt.Errorf("unexpected probe reply %q", out)
	}
	return nil
}

func (t *SSHTransport) runCommand(cmd string) (string, error) {
	if err := t.dial(normalTimeout); err != nil {
		return "", err
	}
	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()
	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

func (t *SSHTransport) MkdirAll(remotePath string) error {
	if err := t.dial(normalTimeout); err != nil {
		return err
	}
	return t.sftp.MkdirAll(remotePath)
}

func (t *SSHTransport) ClearDir(remotePath string) error {
	// rm -rf the contents, then recreate: tens of thousands of
	// per-file SFTP removes would take minutes.
	_, err := t.runCommand(fmt.Sprintf("rm -rf %q; mkdir -p %q", remotePath, remotePath))
	if err != nil {
		return fmt.Errorf("clear remote dir %s: %w", remotePath, err)
	}
	return nil
}

func (t *SSHTransport) UploadFile(localPath, remotePath string) error {
	start := time.Now()
	n, err := t.uploadFile(localPath, remotePath)
	if err != nil {
		return err
	}
	t.logger.Info().
		Str("remote", remotePath).
		Int64("bytes", n).
		Float64("mb_per_s", throughputMB(n, time.Since(start))).
		Msg("file uploaded")
	return nil
}

func (t *SSHTransport) uploadFile(localPath, remotePath string) (int64, error) {
	if err := t.dial(normalTimeout); err != nil {
		return 0, err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := t.sftp.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", path.Dir(remotePath), err)
	}
	dst, err := t.sftp.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer dst.Close()

	n, err := dst.ReadFrom(src)
	if err != nil {
		return n, fmt.Errorf("upload %s: %w", remotePath, err)
	}
	metrics.UploadBytes.Add(float64(n))
	return n, nil
}

func (t *SSHTransport) UploadDir(localDir, remoteDir string) error {
	if err := t.dial(normalTimeout); err != nil {
		return err
	}

	// Size the tree first so progress can be reported as a percentage;
	// the stat pass is cheap next to tens of thousands of SFTP writes.
	var totalBytes int64
	totalFiles := 0
	err := filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			totalBytes += info.Size()
			totalFiles++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", localDir, err)
	}

	start := time.Now()
	var transferred int64
	uploaded := 0
	lastPercent := 0

	err = filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := path.Join(remoteDir, filepath.ToSlash(rel))
		if info.IsDir() {
			return t.sftp.MkdirAll(remote)
		}

		n, err := t.uploadFile(p, remote)
		if err != nil {
			return err
		}
		transferred += n
		uploaded++

		// Log every 5% step rather than per file.
		percent := 100
		if totalBytes > 0 {
			percent = int(100 * transferred / totalBytes)
		}
		if percent >= lastPercent+5 {
			lastPercent = percent
			t.logger.Info().
				Int("percent", percent).
				Int("files", uploaded).
				Float64("mb_per_s", throughputMB(transferred, time.Since(start))).
				Msg("upload progress")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload dir %s: %w", localDir, err)
	}
	t.logger.Info().
		Int("files", uploaded).
		Int64("bytes", transferred).
		Dur("took", time.Since(start)).
		Float64("mb_per_s", throughputMB(transferred, time.Since(start))).
		Msg("directory upload complete")
	return nil
}

func throughputMB(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs < 0.1 {
		secs = 0.1
	}
	return float64(bytes) / (1024 * 1024) / secs
}

func (t *SSHTransport) DownloadDir(remoteDir, localDir string) (int, error) {
	if err := t.dial(normalTimeout); err != nil {
		return 0, err
	}
	start := time.Now()
	files := 0
	var transferred int64

	var walk func(remote, local string) error
	walk = func(remote, local string) error {
		if err := os.MkdirAll(local, 0o755); err != nil {
			return err
		}
		entries, err := t.sftp.ReadDir(remote)
		if err != nil {
			return fmt.Errorf("list %s: %w", remote, err)
		}
		for _, entry := range entries {
			rp := path.Join(remote, entry.Name())
			lp := filepath.Join(local, entry.Name())
			if entry.IsDir() {
				if err := walk(rp, lp); err != nil {
					return err
				}
				continue
			}
			n, err := t.downloadFile(rp, lp)
			if err != nil {
				return err
			}
			transferred += n
			files++
			if files%10 == 0 {
				t.logger.Info().
					Int("files", files).
					Float64("mb", float64(transferred)/(1024*1024)).
					Float64("mb_per_s", throughputMB(transferred, time.Since(start))).
					Msg("download progress")
			}
		}
		return nil
	}
	if err := walk(remoteDir, localDir); err != nil {
		return files, err
	}
	t.logger.Info().
		Int("files", files).
		Int64("bytes", transferred).
		Float64("mb_per_s", throughputMB(transferred, time.Since(start))).
		Msg("directory download complete")
	return files, nil
}

func (t *SSHTransport) downloadFile(remotePath, localPath string) (int64, error) {
	src, err := t.sftp.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer src.Close()
	dst, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	n, err := src.WriteTo(dst)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", remotePath, err)
	}
	return n, nil
}

func (t *SSHTransport) DirExists(remotePath string) (bool, error) {
	if err := t.dial(normalTimeout); err != nil {
		return false, err
	}
	info, err := t.sftp.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (t *SSHTransport) Close() {
	if t.sftp != nil {
		t.sftp.Close()
		t.sftp = nil
	}
	if t.client != nil {
		t.client.Close()
		t.client = nil
	}
}
