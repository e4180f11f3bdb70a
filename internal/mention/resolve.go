// Package mention разбирает @упоминания в тексте сообщения и рассылает уведомления адресатам.
package mention

import (
	"strings"
	"unicode"

	"github.com/teamchat/internal/model"
)

// Token is a syntactic mention: текст после @ (возможно, из нескольких слов).
type Token struct {
	Raw  string
	Name string // нормализованное имя
}

// normalize: нижний регистр, пробелы схлопнуты.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

const trailingPunct = ".,!?:;)]}\"'…"

// Parse находит упоминания в тексте. Многословное имя набирается жадно: следующее слово
// присоединяется, пока накопленная строка входит в display name кого-то из candidates.
// Пунктуация в конце слова обрывает имя.
func Parse(text string, candidates []model.RosterEntry) []Token {
	words := strings.Fields(text)
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = normalize(c.UserName)
	}

	var out []Token
	for i := 0; i < len(words); i++ {
		w := words[i]
		if !strings.HasPrefix(w, "@") {
			continue
		}
		body := w[1:]
		if at := strings.IndexByte(body, '@'); at >= 0 {
			body = body[:at]
		}
		body, cut := trimWord(body)
		if body == "" {
			continue
		}
		raw := body
		acc := normalize(body)
		for !cut && i+1 < len(words) {
			next := words[i+1]
			if strings.HasPrefix(next, "@") {
				break
			}
			nw, nextCut := trimWord(next)
			if nw == "" {
				break
			}
			ext := acc + " " + normalize(nw)
			if !anyContains(names, ext) {
				break
			}
			acc = ext
			raw += " " + nw
			cut = nextCut
			i++
		}
		out = append(out, Token{Raw: raw, Name: acc})
	}
	return out
}

func trimWord(w string) (string, bool) {
	t := strings.TrimRightFunc(w, func(r rune) bool {
		return strings.ContainsRune(trailingPunct, r) || unicode.IsSymbol(r)
	})
	return t, t != w
}

func anyContains(names []string, s string) bool {
	for _, n := range names {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}

// Match ищет участника по нормализованному имени: сначала точное совпадение, затем
// начало имени, затем подстрока. Внутри каждого прохода побеждает первый по порядку ростера.
func Match(name string, candidates []model.RosterEntry) (model.RosterEntry, bool) {
	if name == "" {
		return model.RosterEntry{}, false
	}
	passes := []func(display string) bool{
		func(d string) bool { return d == name },
		func(d string) bool { return strings.HasPrefix(d, name) },
		func(d string) bool { return strings.Contains(d, name) },
	}
	for _, pass := range passes {
		for _, c := range candidates {
			if pass(normalize(c.UserName)) {
				return c, true
			}
		}
	}
	return model.RosterEntry{}, false
}

// Resolve возвращает id адресатов без повторов, в порядке первого упоминания.
// Отправитель и неактивные участники адресатами не становятся; нераспознанные упоминания отбрасываются.
func Resolve(text string, roster []model.RosterEntry, senderID string) []string {
	candidates := make([]model.RosterEntry, 0, len(roster))
	for _, e := range model.ActiveOnly(roster) {
		if e.UserID != senderID {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 || !strings.Contains(text, "@") {
		return nil
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, tok := range Parse(text, candidates) {
		e, ok := Match(tok.Name, candidates)
		if !ok {
			continue
		}
		if _, dup := seen[e.UserID]; dup {
			continue
		}
		seen[e.UserID] = struct{}{}
		ids = append(ids, e.UserID)
	}
	return ids
}
