package archive

import (
    "fmt"
    "strings"
    "time"
)

// PGN renders g with the seven-tag roster subset clients care about.
func PGN(g Game) string {
    res := pgnResult(g.Result)
    date := g.EndedAt
    if date.IsZero() { date = time.Now() }

    var b strings.Builder
    b.WriteString("[Event \"Chess Relay\"]\n")
    b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(g.SessionID)))
    b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
    b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteName)))
    b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackName)))
    if m := strings.TrimSpace(g.Method); m != "" {
        b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m))))
    }
    b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", res))

    for i := 0; i < len(g.MovesSAN); i += 2 {
        b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.MovesSAN[i])))
        if i+1 < len(g.MovesSAN) {
            b.WriteString(" ")
            b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
        }
        b.WriteString(" ")
    }
    b.WriteString(res)
    return b.String()
}

func sanitizePGN(s string) string {
    s = strings.ReplaceAll(s, "\\", " ")
    s = strings.ReplaceAll(s, "\"", "'")
    return strings.TrimSpace(s)
}
