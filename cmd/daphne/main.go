package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cvsouth/daphne/cryptostream"
	"github.com/cvsouth/daphne/daphnelog"
	"github.com/cvsouth/daphne/holepunch"
	"github.com/cvsouth/daphne/rendezvous"
	"github.com/cvsouth/daphne/tlsconfig"
	"github.com/cvsouth/daphne/transfer"
	"github.com/cvsouth/daphne/usercode"
)

// Version is set at build time via ldflags.
var Version = "dev"

// defaultRelayAddr is the reference rendezvous deployment's address.
// Operators of a private relay override it with -relay-addr.
const defaultRelayAddr = "127.0.0.1:49870"

// pairingTimeout bounds the rendezvous + hole-punch phase; once a session
// key is established there is no further deadline on the transfer/chat
// phase.
const pairingTimeout = 2 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var code int
	switch os.Args[1] {
	case "send":
		code = runSend(os.Args[2:])
	case "chat":
		code = runChat(os.Args[2:])
	case "join":
		code = runJoin(os.Args[2:])
	default:
		usage()
		code = 1
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: daphne <send <paths...>|chat|join <code>> [flags]")
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	relayAddr  string
	serverName string
	rootCA     string
	logPath    string
}

func bindCommonFlags(fs *flag.FlagSet, defaultLog string) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.relayAddr, "relay-addr", defaultRelayAddr, "rendezvous server address")
	fs.StringVar(&cf.serverName, "server-name", "", "TLS server name to verify (defaults to the relay-addr host)")
	fs.StringVar(&cf.rootCA, "root-ca", "", "path to a PEM root CA to trust instead of the embedded one")
	fs.StringVar(&cf.logPath, "log", defaultLog, "path to the JSON debug log")
	return cf
}

func (cf *commonFlags) newClient(logger *slog.Logger) (*rendezvous.Client, error) {
	serverName := cf.serverName
	if serverName == "" {
		if host, _, err := net.SplitHostPort(cf.relayAddr); err == nil {
			serverName = host
		} else {
			serverName = cf.relayAddr
		}
	}
	var rootCAPEM []byte
	if cf.rootCA != "" {
		b, err := os.ReadFile(cf.rootCA)
		if err != nil {
			return nil, fmt.Errorf("read root CA: %w", err)
		}
		rootCAPEM = b
	}
	tlsCfg, err := tlsconfig.ClientConfig(serverName, rootCAPEM)
	if err != nil {
		return nil, fmt.Errorf("build TLS config: %w", err)
	}
	return &rendezvous.Client{ServerAddr: cf.relayAddr, TLSConfig: tlsCfg, Logger: logger}, nil
}

func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	return daphnelog.Setup(logPath, slog.LevelInfo)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\ninterrupted")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// choosePort asks the OS for a free TCP port and immediately releases it,
// so the same number can be reused across the v4/v6 rendezvous connections
// and the hole-punch engine's SO_REUSEPORT sockets.
func choosePort() (int, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("choose local port: %w", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// localAddrFor discovers the local IP address the OS would use to reach
// remote for the given TCP network family, without sending any packets
// (a UDP "connect" only consults the routing table).
func localAddrFor(network, remote string, port int) (*net.TCPAddr, error) {
	udpNetwork := "udp4"
	if network == "tcp6" {
		udpNetwork = "udp6"
	}
	conn, err := net.Dial(udpNetwork, remote)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return &net.TCPAddr{IP: local.IP, Port: port}, nil
}

// pairedPeer holds everything the hole-punch engine needs once rendezvous
// has completed.
type pairedPeer struct {
	roomID usercode.RoomID
	secret usercode.PeerSecret
	port   int
	peer   rendezvous.FullContact
}

// rendezvousAsCreator allocates a room, reports this host's contact over
// every dialable address family, and waits for the joiner's.
func rendezvousAsCreator(ctx context.Context, client *rendezvous.Client, logger *slog.Logger) (*pairedPeer, error) {
	secret, err := usercode.NewPeerSecret()
	if err != nil {
		return nil, fmt.Errorf("generate peer secret: %w", err)
	}

	roomID, port, firstNetwork, err := createRoomAnyFamily(ctx, client)
	if err != nil {
		return nil, err
	}

	peer, err := finishBothFamilies(ctx, client, roomID, true, port, firstNetwork, logger)
	if err != nil {
		return nil, err
	}
	return &pairedPeer{roomID: roomID, secret: secret, port: port, peer: peer}, nil
}

func createRoomAnyFamily(ctx context.Context, client *rendezvous.Client) (usercode.RoomID, int, string, error) {
	roomID, port, err := client.CreateRoom(ctx, "tcp6", 0)
	if err == nil {
		return roomID, port, "tcp6", nil
	}
	roomID, port, err2 := client.CreateRoom(ctx, "tcp4", 0)
	if err2 == nil {
		return roomID, port, "tcp4", nil
	}
	return 0, 0, "", fmt.Errorf("create room: tcp6: %v, tcp4: %v", err, err2)
}

// rendezvousAsJoiner parses code, then mirrors rendezvousAsCreator's
// SendContact/DoneSending dialogue with is_creator=false.
func rendezvousAsJoiner(ctx context.Context, client *rendezvous.Client, code string, logger *slog.Logger) (*pairedPeer, error) {
	parsed, err := usercode.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("parse user code: %w", err)
	}
	port, err := choosePort()
	if err != nil {
		return nil, err
	}

	peer, err := finishBothFamilies(ctx, client, parsed.RoomID, false, port, "", logger)
	if err != nil {
		return nil, err
	}
	return &pairedPeer{roomID: parsed.RoomID, secret: parsed.Secret, port: port, peer: peer}, nil
}

// finishBothFamilies runs FinishFamily over every address family the host
// can reach the relay on, tolerating either family failing outright, and
// returns the first successfully-paired peer contact. alreadyTried, if
// non-empty, names a family whose connection was already exercised by
// CreateRoom and is attempted first here as well (a fresh connection —
// rendezvous treats each RPC as its own short-lived stream).
func finishBothFamilies(ctx context.Context, client *rendezvous.Client, roomID usercode.RoomID, isCreator bool, port int, preferredFirst string, logger *slog.Logger) (rendezvous.FullContact, error) {
	families := []string{"tcp6", "tcp4"}
	if preferredFirst == "tcp4" {
		families = []string{"tcp4", "tcp6"}
	}

	type outcome struct {
		peer rendezvous.FullContact
		err  error
	}
	results := make(chan outcome, len(families))
	attempted := 0
	for _, network := range families {
		priv, err := localAddrFor(network, client.ServerAddr, port)
		if err != nil {
			logger.Debug("daphne: address family unavailable", "network", network, "error", err)
			continue
		}
		attempted++
		go func(network string, priv *net.TCPAddr) {
			peer, err := client.FinishFamily(ctx, network, roomID, isCreator, port, priv)
			results <- outcome{peer, err}
		}(network, priv)
	}
	if attempted == 0 {
		return rendezvous.FullContact{}, fmt.Errorf("no usable address family to reach the relay")
	}

	var firstErr error
	for i := 0; i < attempted; i++ {
		res := <-results
		if res.err == nil {
			return res.peer, nil
		}
		if firstErr == nil {
			firstErr = res.err
		}
	}
	return rendezvous.FullContact{}, firstErr
}

func candidatesFor(peer rendezvous.FullContact) []holepunch.Candidate {
	var cands []holepunch.Candidate
	add := func(network string, addr *net.TCPAddr) {
		if addr != nil {
			cands = append(cands, holepunch.Candidate{Network: network, Addr: addr.String()})
		}
	}
	add("tcp6", peer.Private.V6)
	add("tcp6", peer.Public.V6)
	add("tcp4", peer.Private.V4)
	add("tcp4", peer.Public.V4)
	return cands
}

// connectSession runs hole-punch + PAKE and wraps the result as an
// encrypted duplex ready for transfer.
func connectSession(ctx context.Context, pp *pairedPeer, isCreator bool, logger *slog.Logger) (*cryptostream.Reader, flushWriter, func() error, error) {
	candidates := candidatesFor(pp.peer)
	conn, key, err := holepunch.Establish(ctx, pp.port, candidates, pp.secret, isCreator, logger)
	if err != nil {
		return nil, flushWriter{}, nil, err
	}

	rh, wh := cryptostream.Split(conn)
	writer, err := cryptostream.NewWriter(wh, key)
	if err != nil {
		_ = conn.Close()
		return nil, flushWriter{}, nil, err
	}
	reader, err := cryptostream.NewReader(rh, key)
	if err != nil {
		_ = conn.Close()
		return nil, flushWriter{}, nil, err
	}
	return reader, flushWriter{w: writer}, conn.Close, nil
}

// flushWriter flushes the underlying cryptostream.Writer after every
// write, since transfer's envelopes are small control messages that must
// reach the peer immediately rather than sit buffered until a chunk fills.
type flushWriter struct {
	w *cryptostream.Writer
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.w.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	cf := bindCommonFlags(fs, "daphne-send-debug.log")
	_ = fs.Parse(args)
	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: daphne send <paths...>")
		return 1
	}

	logger, logFile, err := setupLogging(cf.logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = logFile.Close() }()

	client, err := cf.newClient(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	pairCtx, pairCancel := context.WithTimeout(ctx, pairingTimeout)
	defer pairCancel()

	pp, err := rendezvousAsCreator(pairCtx, client, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendezvous failed: %v\n", err)
		return 1
	}
	code := usercode.UserCode{RoomID: pp.roomID, Secret: pp.secret}
	fmt.Printf("Share this code with your peer: %s\n", code.String())
	fmt.Println("Waiting for peer...")

	reader, writer, closeConn, err := connectSession(pairCtx, pp, true, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection failed: %v\n", err)
		return 1
	}
	defer func() { _ = closeConn() }()
	fmt.Println("Connected. Sending files...")

	progress := func(name string, sent, total int64) {
		fmt.Printf("\r%s: %d/%d bytes", name, sent, total)
		if sent >= total {
			fmt.Println()
		}
	}
	if err := transfer.SendFiles(writer, reader, paths, progress); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		return 1
	}
	fmt.Println("Done.")
	return 0
}

func runChat(args []string) int {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cf := bindCommonFlags(fs, "daphne-chat-debug.log")
	_ = fs.Parse(args)

	logger, logFile, err := setupLogging(cf.logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = logFile.Close() }()

	client, err := cf.newClient(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	pairCtx, pairCancel := context.WithTimeout(ctx, pairingTimeout)
	defer pairCancel()

	pp, err := rendezvousAsCreator(pairCtx, client, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendezvous failed: %v\n", err)
		return 1
	}
	code := usercode.UserCode{RoomID: pp.roomID, Secret: pp.secret}
	fmt.Printf("Share this code with your peer: %s\n", code.String())
	fmt.Println("Waiting for peer...")

	reader, writer, closeConn, err := connectSession(pairCtx, pp, true, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection failed: %v\n", err)
		return 1
	}
	defer func() { _ = closeConn() }()
	fmt.Println("Connected. Say hello.")

	if err := transfer.Chat(writer, reader, os.Stdin, os.Stdout, "peer> "); err != nil {
		fmt.Fprintf(os.Stderr, "chat ended: %v\n", err)
		return 1
	}
	return 0
}

func runJoin(args []string) int {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	cf := bindCommonFlags(fs, "daphne-join-debug.log")
	destDir := fs.String("out", "received", "directory incoming files are written to")
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: daphne join <code>")
		return 1
	}
	code := rest[0]

	logger, logFile, err := setupLogging(cf.logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = logFile.Close() }()

	client, err := cf.newClient(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	pairCtx, pairCancel := context.WithTimeout(ctx, pairingTimeout)
	defer pairCancel()

	pp, err := rendezvousAsJoiner(pairCtx, client, code, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendezvous failed: %v\n", err)
		return 1
	}
	fmt.Println("Connecting to peer...")

	reader, writer, closeConn, err := connectSession(pairCtx, pp, false, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection failed: %v\n", err)
		return 1
	}
	defer func() { _ = closeConn() }()
	fmt.Println("Connected.")

	if err := os.MkdirAll(*destDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		return 1
	}

	accept := func(offer transfer.FileOffer) bool {
		fmt.Printf("Receiving %s (%d bytes) into %s\n", offer.Name, offer.Size, filepath.Join(*destDir, filepath.Base(offer.Name)))
		return true
	}
	progress := func(name string, sent, total int64) {
		fmt.Printf("\r%s: %d/%d bytes", name, sent, total)
		if sent >= total {
			fmt.Println()
		}
	}

	if err := transfer.RunReceiver(writer, reader, os.Stdin, os.Stdout, *destDir, accept, progress, "peer> "); err != nil {
		fmt.Fprintf(os.Stderr, "session ended: %v\n", err)
		return 1
	}
	return 0
}
