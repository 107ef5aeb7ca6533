package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/playperu/checkin/internal/checkin"
)

// Feed reads one scan per line from r, as produced by keyboard-wedge
// barcode scanners, and reports each outcome to fn. Blank lines are
// skipped. Feed returns when r is exhausted or ctx is done.
func Feed(ctx context.Context, r io.Reader, p *Processor, fn func(raw string, out checkin.ScanOutcome, err error)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out, err := p.HandleScan(ctx, line)
		fn(line, out, err)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading scan feed: %w", err)
	}
	return nil
}
