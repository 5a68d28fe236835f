package uci

import (
	"strconv"
	"strings"
)

// Score is an engine evaluation from the side to move's point of view:
// either centipawns or a forced mate in N moves (negative when the side to
// move is getting mated).
type Score struct {
	CP     int
	Mate   int
	IsMate bool
}

// Info is one parsed "info" line of engine output.
type Info struct {
	MultiPV   int // 1-based; 1 when the engine omits the token
	Depth     int
	SelDepth  int
	Nodes     int64
	TimeMS    int64
	Score     *Score
	WDL       []int // win/draw/loss per-mille, side to move's POV
	MovesLeft *int
	PV        []string
}

// tokens that carry exactly one value we do not care about
var skipValueTokens = map[string]bool{
	"nps":            true,
	"hashfull":       true,
	"tbhits":         true,
	"sbhits":         true,
	"cpuload":        true,
	"currmove":       true,
	"currmovenumber": true,
}

// ParseInfo parses an engine "info" line. It reports false for lines that
// are not analysis info (including "info string" chatter).
func ParseInfo(line string) (Info, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "info" {
		return Info{}, false
	}

	info := Info{MultiPV: 1}
	i := 1
	for i < len(fields) {
		tok := fields[i]
		switch tok {
		case "string":
			// Free-form engine chatter, not an analysis record.
			return Info{}, false
		case "depth":
			info.Depth = atoi(fields, &i)
		case "seldepth":
			info.SelDepth = atoi(fields, &i)
		case "multipv":
			info.MultiPV = atoi(fields, &i)
		case "nodes":
			info.Nodes = int64(atoi(fields, &i))
		case "time":
			info.TimeMS = int64(atoi(fields, &i))
		case "movesleft":
			n := atoi(fields, &i)
			info.MovesLeft = &n
		case "score":
			i++
			if i >= len(fields) {
				break
			}
			switch fields[i] {
			case "cp":
				v := atoi(fields, &i)
				info.Score = &Score{CP: v}
			case "mate":
				v := atoi(fields, &i)
				info.Score = &Score{Mate: v, IsMate: true}
			default:
				i++
			}
		case "lowerbound", "upperbound":
			i++
		case "wdl":
			if i+3 < len(fields) {
				w, errW := strconv.Atoi(fields[i+1])
				d, errD := strconv.Atoi(fields[i+2])
				l, errL := strconv.Atoi(fields[i+3])
				if errW == nil && errD == nil && errL == nil {
					info.WDL = []int{w, d, l}
				}
			}
			i += 4
		case "pv":
			info.PV = append(info.PV, fields[i+1:]...)
			i = len(fields)
		default:
			if skipValueTokens[tok] {
				i += 2
			} else {
				i++
			}
		}
	}
	return info, true
}

// atoi reads the value following the token at *i and advances past it.
func atoi(fields []string, i *int) int {
	*i++
	if *i >= len(fields) {
		return 0
	}
	v, _ := strconv.Atoi(fields[*i])
	*i++
	return v
}
