package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Alia5/VIIPMI/apiclient"
	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/hostdrv"
	"github.com/Alia5/VIIPMI/ipmi"
)

// Raw sends one IPMI request through the host driver of a remote interface.
type Raw struct {
	Addr        string        `help:"API server address" default:"localhost:3243" env:"VIIPMI_ADDR"`
	Password    string        `help:"API password" env:"VIIPMI_PASSWORD"`
	AskPassword bool          `help:"Prompt for the API password"`
	Timeout     time.Duration `help:"Exchange timeout" default:"5s"`
	Poll        time.Duration `help:"Status poll interval of the host driver" default:"1ms"`

	ID      int      `arg:"" help:"Interface id"`
	Request []string `arg:"" help:"Request bytes in hex: netfn/lun cmd [data...], e.g. 18 01"`
}

// Run is called by Kong when the raw command is executed.
func (r *Raw) Run(logger *slog.Logger) error {
	req, err := apitypes.ParseHex(strings.Join(r.Request, " "))
	if err != nil {
		return err
	}
	if len(req) < 2 {
		return errors.New("request needs at least netfn and cmd")
	}

	password := r.Password
	if r.AskPassword {
		if password, err = readPassword(os.Stdin, os.Stderr); err != nil {
			return err
		}
	}
	client := apiclient.NewWithPassword(r.Addr, password)

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	rsp, err := exchange(ctx, client, r.ID, req, r.Poll)
	if err != nil {
		return err
	}
	logger.Debug("raw exchange", "id", r.ID, "request", fmt.Sprintf("% x", req), "response", fmt.Sprintf("% x", rsp))
	fmt.Println(formatResponse(rsp))
	return nil
}

// exchange runs req through the host driver matching the remote interface type.
func exchange(ctx context.Context, c *apiclient.Client, id int, req []byte, poll time.Duration) ([]byte, error) {
	st, err := c.DeviceStatusCtx(ctx, id)
	if err != nil {
		return nil, err
	}
	var drv hostdrv.Driver
	switch st.Type {
	case "kcs", "bt":
		stream, err := c.OpenIO(ctx, id)
		if err != nil {
			return nil, err
		}
		defer stream.Close()
		if st.Type == "kcs" {
			drv = hostdrv.NewKCS(stream, poll)
		} else {
			drv = hostdrv.NewBT(stream, poll)
		}
	case "ssif":
		drv = hostdrv.NewSSIF(c.Blocks(ctx, id), poll)
	default:
		return nil, fmt.Errorf("%w: %s", hostdrv.ErrUnsupported, st.Type)
	}
	return drv.Exchange(ctx, req)
}

func formatResponse(rsp []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "% x", rsp)
	if len(rsp) >= 3 {
		fmt.Fprintf(&b, " (%s)", ipmi.CompletionCode(rsp[2]).String())
	}
	return b.String()
}

// readPassword prompts on out and reads without echo when in is a terminal.
func readPassword(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	if term.IsTerminal(int(in.Fd())) {
		pwd, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pwd), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
