// Package rlog wires a single btclog backend and hands out tagged
// subsystem loggers, following the pattern pktd's top-level log.go and
// pktwallet/wallet/log.go use: one shared backend and one four-letter tag
// per package. Each package takes its logger from Logger at package init,
// so logging to stdout is on from the start.
package rlog

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per core package. Mirrors pktd's subsystemLoggers
// map (BTCD, CHAN, TXMP, ...) scaled down to this module's components.
const (
	TagUpdater        = "UPDT"
	TagCache          = "CACH"
	TagTxUpdater      = "TXUP"
	TagAddressUpdater = "ADDR"
	TagRollback       = "RBLK"
	TagParser         = "PRSR"
	TagMempoolGrace   = "MGRC"
	TagBlockFetcher   = "BFCH"
	TagEventBus       = "EVTB"
	TagStoreLock      = "SLCK"
	TagChainIO        = "CHIO"
	TagBoltStore      = "BOLT"
	TagMetrics        = "MTRC"
)

// backend is created at package init against os.Stdout; NewRotatingBackend lets an
// embedder redirect it to a rotated log file instead, the way pktd's
// logWriter/log rotator does for the full node process.
var backend = btclog.NewBackend(os.Stdout)

// Logger returns a tagged subsystem logger backed by the shared backend.
// The returned logger defaults to whatever level SetLevel has been called
// with (btclog.LevelInfo by default).
func Logger(tag string) btclog.Logger {
	return backend.Logger(tag)
}

// SetLevel sets the log level for every logger handed out by Logger.
func SetLevel(level btclog.Level) {
	backend.SetLevel(level)
}

// NewRotatingBackend points the shared backend at a rotating log file in
// addition to stdout, using the same jrick/logrotate rotator the teacher's
// full-node process wires in for its on-disk logs. dir/filename follow
// logrotate's own naming: filename.log, filename.log.1, etc.
func NewRotatingBackend(dir, filename string, maxRolls int) error {
	r, err := rotator.New(dir+string(os.PathSeparator)+filename, 10*1024, false, maxRolls)
	if err != nil {
		return err
	}
	backend = btclog.NewBackend(io.MultiWriter(os.Stdout, r))
	return nil
}
