package key

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"klinelog/internal/obd"
	"klinelog/pkg/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Run(cmd *cobra.Command, args []string) {
	for _, arg := range args {
		if err := Print(os.Stdout, arg); err != nil {
			log.Fatal("invalid seed", zap.String("seed", arg), zap.Error(err))
		}
	}
}

// ParseSeed accepts a 16-bit seed as hex, with or without 0x prefix or a
// space between the two bytes ("5225", "0x5225", "52 25").
func ParseSeed(s string) (uint16, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parse seed %q: %w", s, err)
	}
	return uint16(v), nil
}

func Print(w io.Writer, arg string) error {
	seed, err := ParseSeed(arg)
	if err != nil {
		return err
	}
	hi, lo := obd.CalculateKey(seed)
	_, err = fmt.Fprintf(w, "seed %04X key %02X %02X\n", seed, hi, lo)
	return err
}
