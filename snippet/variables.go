package snippet

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Context describes where a snippet is being inserted
type Context struct {
	FilePath    string
	LineIndex   int // 0-indexed
	CurrentLine string
	Now         time.Time
}

// ContextVariables builds the standard TM_* and CURRENT_* variables.
// Variables with no meaningful value for ctx (for example TM_FILENAME of an
// unnamed buffer) are left out so their defaults apply.
func ContextVariables(ctx Context) Variables {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	vars := Variables{
		"TM_LINE_INDEX":   strconv.Itoa(ctx.LineIndex),
		"TM_LINE_NUMBER":  strconv.Itoa(ctx.LineIndex + 1),
		"TM_CURRENT_LINE": ctx.CurrentLine,

		"CURRENT_YEAR":             strconv.Itoa(now.Year()),
		"CURRENT_YEAR_SHORT":       fmt.Sprintf("%02d", now.Year()%100),
		"CURRENT_MONTH":            fmt.Sprintf("%02d", int(now.Month())),
		"CURRENT_MONTH_NAME":       now.Month().String(),
		"CURRENT_MONTH_NAME_SHORT": now.Month().String()[:3],
		"CURRENT_DATE":             fmt.Sprintf("%02d", now.Day()),
		"CURRENT_DAY_NAME":         now.Weekday().String(),
		"CURRENT_DAY_NAME_SHORT":   now.Weekday().String()[:3],
		"CURRENT_HOUR":             fmt.Sprintf("%02d", now.Hour()),
		"CURRENT_MINUTE":           fmt.Sprintf("%02d", now.Minute()),
		"CURRENT_SECOND":           fmt.Sprintf("%02d", now.Second()),
		"CURRENT_SECONDS_UNIX":     strconv.FormatInt(now.Unix(), 10),

		"RANDOM":     fmt.Sprintf("%06d", rand.IntN(1_000_000)),
		"RANDOM_HEX": fmt.Sprintf("%06x", rand.IntN(1<<24)),
		"UUID":       uuid.NewString(),
	}

	if ctx.FilePath != "" {
		base := filepath.Base(ctx.FilePath)
		vars["TM_FILEPATH"] = ctx.FilePath
		vars["TM_FILENAME"] = base
		vars["TM_FILENAME_BASE"] = strings.TrimSuffix(base, filepath.Ext(base))
		vars["TM_DIRECTORY"] = filepath.Dir(ctx.FilePath)
	}
	return vars
}
