// Package message holds the player-facing text table.
package message

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Param is one {key} substitution.
type Param struct {
	Key   string
	Value string
}

// P builds a Param. Floats render with two decimals.
func P(key string, value any) Param {
	switch v := value.(type) {
	case string:
		return Param{Key: key, Value: v}
	case float64:
		return Param{Key: key, Value: fmt.Sprintf("%.2f", v)}
	case float32:
		return Param{Key: key, Value: fmt.Sprintf("%.2f", v)}
	default:
		return Param{Key: key, Value: fmt.Sprint(v)}
	}
}

// Catalog resolves message keys to display text.
type Catalog interface {
	// Get returns the text for key without the chat prefix.
	Get(key string, params ...Param) string
	// Prefixed returns the chat prefix followed by the text for key.
	Prefixed(key string, params ...Param) string
}

// Table is a Catalog backed by a nested YAML file over built-in defaults.
type Table struct {
	prefix string
	msgs   map[string]string
}

// NewTable returns the built-in Russian messages.
func NewTable() *Table {
	t := &Table{msgs: make(map[string]string, len(defaults))}
	for k, v := range defaults {
		t.msgs[k] = colorize(v)
	}
	t.prefix = t.msgs["prefix"]
	return t
}

// LoadTable reads messages.yml. A missing file yields the defaults.
func LoadTable(path string, log *zap.Logger) (*Table, error) {
	t := NewTable()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("訊息檔不存在，使用預設訊息", zap.String("path", path))
			return t, nil
		}
		return nil, fmt.Errorf("read messages: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	flatten("", tree, t.msgs)
	t.prefix = t.msgs["prefix"]
	return t, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = colorize(val)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// colorize turns &-codes into section-sign color codes.
func colorize(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	const codes = "0123456789AaBbCcDdEeFfKkLlMmNnOoRrXx"
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if s[i] == '&' && i+1 < len(s) && strings.IndexByte(codes, s[i+1]) >= 0 {
			b.WriteString("§")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func (t *Table) Get(key string, params ...Param) string {
	msg, ok := t.msgs[key]
	if !ok {
		return key
	}
	for _, p := range params {
		msg = strings.ReplaceAll(msg, "{"+p.Key+"}", p.Value)
	}
	return msg
}

func (t *Table) Prefixed(key string, params ...Param) string {
	return t.prefix + t.Get(key, params...)
}

// Keys lists every known key, sorted.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.msgs))
	for k := range t.msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var defaults = map[string]string{
	"prefix": "&8[&6Королевства&8] ",

	"ghost.became-ghost":              "&7Вы стали призраком! Воскрешение возможно через &e{time}&7.",
	"ghost.can-self-resurrect":        "&aВы можете воскреснуть самостоятельно!",
	"ghost.cannot-self-resurrect-yet": "&cСамостоятельное воскрешение будет доступно через &e{time}&c.",
	"ghost.not-a-ghost":               "&cВы не призрак.",
	"ghost.self-resurrected":          "&aВы воскресли!",
	"ghost.auto-resurrected":          "&aВремя истекло, вы воскресли!",
	"ghost.resurrected-by":            "&aВас воскресил &e{player}&a!",
	"ghost.cannot-interact":           "&7Призраки не могут этого делать.",
	"ghost.max-height-reached":        "&7Вы достигли максимальной высоты полёта.",
	"ghost.countdown":                 "&7☠ До воскрешения: &e{time}",
	"ghost.countdown-ready":           "&a☠ Вы можете воскреснуть!",
	"ghost.unknown-ally":              "союзником",

	"respawn.at-kingdom-spawn": "&aВы возродились на спавне своего королевства.",

	"ghost.altar.title":                 "☠ Алтарь Воскрешения ☠",
	"ghost.altar.created":               "&aАлтарь королевства &e{kingdom}&a создан.",
	"ghost.altar.removed":               "&aАлтарь удалён.",
	"ghost.altar.not-found":             "&cАлтарь не найден.",
	"ghost.altar.no-ghosts":             "&7В вашем королевстве нет призраков.",
	"ghost.altar.wrong-kingdom":         "&cЭто алтарь чужого королевства.",
	"ghost.altar.cannot-use-as-ghost":   "&cПризраки не могут пользоваться алтарём.",
	"ghost.altar.ghost-not-found":       "&cЭтот призрак уже воскрешён.",
	"ghost.altar.not-enough-items":      "&cНедостаточно предметов для воскрешения.",
	"ghost.altar.resurrected":           "&aВы воскресили &e{player}&a!",
	"ghost.altar.broadcast-resurrected": "&e{resurrector}&a воскресил &e{ghost}&a у алтаря!",
	"ghost.altar.offer-title":           "✦ Воскресить: {player} ✦",
	"ghost.altar.offer-player":          "Игрок: {player}",
	"ghost.altar.offer-remaining":       "Оставшееся время: {time}",
	"ghost.altar.offer-cost":            "Стоимость воскрешения:",
	"ghost.altar.offer-cost-line":       "  • {amount}x {item}",
	"ghost.altar.offer-hint":            "Нажмите для воскрешения!",

	"ghost.immortality.offer-title":      "⚔ Купить Бессмертие ⚔",
	"ghost.immortality.offer-lore":       "Эффект бессмертия защитит вас от смерти!",
	"ghost.immortality.offer-duration":   "Длительность: {time}",
	"ghost.immortality.offer-cost":       "Стоимость:",
	"ghost.immortality.offer-hint":       "Нажмите для покупки!",
	"ghost.immortality.active-title":     "⚔ Бессмертие уже активно ⚔",
	"ghost.immortality.active-lore":      "Осталось времени: {time}",
	"ghost.immortality.disabled":         "&cБессмертие отключено.",
	"ghost.immortality.already-have":     "&cУ вас уже есть бессмертие! Осталось: &e{time}",
	"ghost.immortality.not-enough-items": "&cНедостаточно предметов для бессмертия.",
	"ghost.immortality.purchased":        "&aВы получили бессмертие на &e{time}&a!",
	"ghost.immortality.triggered":        "&6Бессмертие спасло вас от смерти!",
	"ghost.immortality.expired":          "&7Ваше бессмертие закончилось.",
	"ghost.immortality.actionbar":        "&6⚔ Бессмертие: &e{time}",
}
