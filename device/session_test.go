package device

import (
	"fmt"
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	require := require.New(t)

	t.Run("valid", func(t *testing.T) {
		port, _ := newPipePort(t)

		sess, err := NewSession("Venus", port)
		require.NoError(err)
		require.Equal(Unauthenticated, sess.State())
		require.False(sess.IsAuthenticated())
	})

	t.Run("reserved identity", func(t *testing.T) {
		port, _ := newPipePort(t)

		_, err := NewSession("AUTH_SUCCESS", port)
		require.ErrorIs(err, ardlink.ErrReservedIdentity)
	})

	t.Run("nil port", func(t *testing.T) {
		_, err := NewSession("Venus", nil)
		require.Error(err)
	})

	t.Run("begin forwards baud rate", func(t *testing.T) {
		port, _ := newPipePort(t)

		sess, err := NewSession("Venus", port)
		require.NoError(err)
		require.NoError(sess.Begin(9600))
		require.Equal(9600, port.beginBaud)
	})
}

func TestSessionChallenge(t *testing.T) {
	require := require.New(t)

	port, host := newPipePort(t)
	sess, err := NewSession("Venus", port)
	require.NoError(err)

	pumpSession(t, sess)

	require.NoError(host.WriteLine(ardlink.ChallengeLine))

	line, err := host.ReadLine(time.Second)
	require.NoError(err)
	require.Equal("Venus", line)

	// Answering the challenge does not itself grant trust.
	require.False(sess.IsAuthenticated())
}

func TestSessionAuthentication(t *testing.T) {
	require := require.New(t)

	port, host := newPipePort(t)
	signaler := newCountingSignaler()
	sess, err := NewSession("Venus", port, WithSignaler(signaler))
	require.NoError(err)

	pumpSession(t, sess)

	require.NoError(host.WriteLine(ardlink.AuthSuccessLine))

	line, err := host.ReadLine(time.Second)
	require.NoError(err)
	require.Equal(ardlink.AuthConfirmLine, line)
	require.True(sess.IsAuthenticated())
	signaler.waitSignal(t)

	t.Run("idempotent re-auth", func(t *testing.T) {
		require.NoError(host.WriteLine(ardlink.AuthSuccessLine))

		line, err := host.ReadLine(time.Second)
		require.NoError(err)
		require.Equal(ardlink.AuthConfirmLine, line)
		require.True(sess.IsAuthenticated())
		signaler.waitSignal(t)
	})
}

func TestSessionCommandGating(t *testing.T) {
	require := require.New(t)

	t.Run("unauthenticated commands are discarded", func(t *testing.T) {
		port, host := newPipePort(t)

		handled := make(chan string, 4)
		sess, err := NewSession("Venus", port,
			WithCommandHandler(CommandHandlerFunc(func(line string) { handled <- line })))
		require.NoError(err)

		pumpSession(t, sess)

		require.NoError(host.WriteLine("SEND_RANDOM"))

		select {
		case line := <-handled:
			t.Fatalf("handler saw %q before authentication", line)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("authenticated commands reach the handler", func(t *testing.T) {
		port, host := newPipePort(t)

		handled := make(chan string, 4)
		sess, err := NewSession("Venus", port,
			WithCommandHandler(CommandHandlerFunc(func(line string) { handled <- line })))
		require.NoError(err)

		pumpSession(t, sess)

		require.NoError(host.WriteLine(ardlink.AuthSuccessLine))
		_, err = host.ReadLine(time.Second) // confirmation
		require.NoError(err)

		require.NoError(host.WriteLine("SEND_RANDOM"))

		select {
		case line := <-handled:
			require.Equal("SEND_RANDOM", line)
		case <-time.After(time.Second):
			t.Fatal("command never reached the handler")
		}
	})

	t.Run("blank lines are ignored", func(t *testing.T) {
		port, host := newPipePort(t)

		handled := make(chan string, 4)
		sess, err := NewSession("Venus", port,
			WithCommandHandler(CommandHandlerFunc(func(line string) { handled <- line })))
		require.NoError(err)

		pumpSession(t, sess)

		require.NoError(host.WriteLine(ardlink.AuthSuccessLine))
		_, err = host.ReadLine(time.Second)
		require.NoError(err)

		require.NoError(host.WriteLine("")) // keepalive probe

		select {
		case line := <-handled:
			t.Fatalf("handler saw blank line as %q", line)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestSessionCommandReply(t *testing.T) {
	require := require.New(t)

	port, host := newPipePort(t)

	var sess *Session
	handler := CommandHandlerFunc(func(line string) {
		if line == "SEND_RANDOM" {
			_ = sess.SendData(fmt.Sprintf("Random: %d", rand.Intn(99)+1))
		}
	})

	sess, err := NewSession("Venus", port, WithCommandHandler(handler))
	require.NoError(err)

	pumpSession(t, sess)

	require.NoError(host.WriteLine(ardlink.AuthSuccessLine))
	_, err = host.ReadLine(time.Second)
	require.NoError(err)

	require.NoError(host.WriteLine("SEND_RANDOM"))

	line, err := host.ReadLine(time.Second)
	require.NoError(err)
	require.Regexp(regexp.MustCompile(`^Random: \d{1,2}$`), line)
}

func TestSessionSendDataSuppression(t *testing.T) {
	require := require.New(t)

	port, host := newPipePort(t)
	sess, err := NewSession("Venus", port)
	require.NoError(err)

	// Unauthenticated sends are silently dropped: no error, no traffic.
	require.NoError(sess.SendData("secret"))

	_, err = host.ReadLine(100 * time.Millisecond)
	require.ErrorIs(err, ardlink.ErrLineTimeout)
}

func TestSessionReset(t *testing.T) {
	require := require.New(t)

	port, host := newPipePort(t)
	sess, err := NewSession("Venus", port)
	require.NoError(err)

	pumpSession(t, sess)

	require.NoError(host.WriteLine(ardlink.AuthSuccessLine))
	_, err = host.ReadLine(time.Second)
	require.NoError(err)
	require.True(sess.IsAuthenticated())

	sess.Reset()
	require.False(sess.IsAuthenticated())
}

func TestSessionUpdateIdle(t *testing.T) {
	require := require.New(t)

	port, _ := newPipePort(t)
	sess, err := NewSession("Venus", port, WithPollTimeout(10*time.Millisecond))
	require.NoError(err)

	// Nothing arrived; an idle poll is not an error.
	require.NoError(sess.Update())
}

func TestSessionUpdateTransportLoss(t *testing.T) {
	require := require.New(t)

	port, host := newPipePort(t)
	sess, err := NewSession("Venus", port)
	require.NoError(err)

	require.NoError(host.Close())

	err = sess.Update()
	require.ErrorIs(err, ardlink.ErrTransportClosed)
}
