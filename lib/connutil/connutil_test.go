package connutil

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/rfbench"
	"github.com/gotmc/rfbench/lib/profile"
	"github.com/gotmc/rfbench/lib/scpitest"
	"github.com/gotmc/rfbench/lib/visa"
)

func TestFlags(t *testing.T) {
	var c Conn
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.AddFlagSet(fs)
	err := fs.Parse([]string{"-resource", "GPIB0::4::INSTR", "-timeout", "3s", "-debug", "-delay", "100ms"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Resource != "GPIB0::4::INSTR" || c.Timeout != 3*time.Second || !c.Debug || c.Delay != 100*time.Millisecond {
		t.Errorf("conn = %+v", c)
	}
	if n := len(c.Options()); n != 4 {
		t.Errorf("got %d options, want 4", n)
	}
}

func TestFlagDefaults(t *testing.T) {
	var c Conn
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.AddFlagSet(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	if c.Timeout != visa.DefaultTimeout {
		t.Errorf("timeout = %s", c.Timeout)
	}
}

func TestSetupFromProfile(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			if sc.Text() == "*IDN?" {
				fmt.Fprintln(conn, "Agilent Technologies,N5183B,MY53271615,B.01.80")
			}
		}
	}()

	host, port, _ := net.SplitHostPort(l.Addr().String())
	path := filepath.Join(t.TempDir(), "bench.yaml")
	yml := fmt.Sprintf("resources:\n  generator: TCPIP0::%s::%s::SOCKET\n", host, port)
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	c := Conn{
		Pick:        func(r profile.Resources) string { return r.Generator },
		ProfilePath: path,
		Timeout:     time.Second,
	}
	sess, cleanup, err := c.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	id, err := sess.Identify()
	if err != nil {
		t.Fatal(err)
	}
	if id.Model != "N5183B" {
		t.Errorf("model = %q", id.Model)
	}
	if c.Profile.Generator.Frequency != 850e6 {
		t.Errorf("profile defaults not loaded: %+v", c.Profile.Generator)
	}
}

func TestLogErrorQueue(t *testing.T) {
	var buf bytes.Buffer
	defer log.SetDefault(log.Default())
	log.SetDefault(log.New(&buf))

	fake := scpitest.New().Reply(":SYSTem:ERRor?",
		`-222,"Data out of range"`,
		`-113,"Undefined header"`,
		`+0,"No error"`)
	LogErrorQueue(rfbench.New(fake))

	out := buf.String()
	for _, want := range []string{"Data out of range", "Undefined header"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if n := len(fake.Commands()); n != 3 {
		t.Errorf("queried the error queue %d times, want 3", n)
	}

	buf.Reset()
	LogErrorQueue(rfbench.New(scpitest.New().Reply(":SYSTem:ERRor?", `0,"No error"`)))
	if buf.Len() != 0 {
		t.Errorf("logged an empty queue: %s", buf.String())
	}
}

func TestSetupNoResource(t *testing.T) {
	c := Conn{Pick: func(profile.Resources) string { return "" }}
	if _, cleanup, err := c.Setup(context.Background()); err == nil {
		cleanup()
		t.Fatal("expected error")
	}
}
