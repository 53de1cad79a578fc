package site

import (
	"context"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Knob is the accessor of one discovered knob.
type Knob struct {
	conn  *Conn
	name  string
	ident string
}

// Name returns the canonical knob name.
func (k *Knob) Name() string { return k.name }

// Ident returns the derived identifier.
func (k *Knob) Ident() string { return k.ident }

// Get reads the knob, see Conn.Get.
func (k *Knob) Get(ctx context.Context) (string, error) {
	return k.conn.Get(ctx, k.name)
}

// Value reads the knob and returns the value part of the reply.
func (k *Knob) Value(ctx context.Context) (string, error) {
	reply, err := k.conn.Get(ctx, k.name)
	if err != nil {
		return "", err
	}

	return acq.KnobValue(reply), nil
}

// Set writes the knob, see Conn.Set.
func (k *Knob) Set(ctx context.Context, value string) error {
	return k.conn.Set(ctx, k.name, value)
}

// knobTable is one immutable discovery result.
type knobTable struct {
	// names holds the canonical names in the order the server listed them.
	names []string
	// byName maps canonical names to accessors.
	byName *xsync.MapOf[string, *Knob]
	// byIdent maps derived identifiers to accessors. Colliding identifiers are absent.
	byIdent *xsync.MapOf[string, *Knob]
}

func newKnobTable(c *Conn, listed []string, l logger.Logger) *knobTable {
	tbl := &knobTable{
		names:   make([]string, 0, len(listed)),
		byName:  xsync.NewMapOf[string, *Knob](xsync.WithPresize(len(listed))),
		byIdent: xsync.NewMapOf[string, *Knob](xsync.WithPresize(len(listed))),
	}

	owners := make(map[string][]string, len(listed))
	for _, name := range listed {
		if _, loaded := tbl.byName.LoadOrStore(name, &Knob{conn: c, name: name, ident: acq.ToIdent(name)}); loaded {
			continue
		}
		tbl.names = append(tbl.names, name)
		ident := acq.ToIdent(name)
		owners[ident] = append(owners[ident], name)
	}

	for ident, names := range owners {
		if len(names) > 1 {
			l.Warn("identifier collision, identifier not routed", "ident", ident, "names", names)
			continue
		}
		knob, _ := tbl.byName.Load(names[0])
		tbl.byIdent.Store(ident, knob)
	}

	return tbl
}

func (t *knobTable) has(name string) bool {
	_, ok := t.byName.Load(name)
	return ok
}

// lookup resolves an identifier, falling back to the canonical name.
func (t *knobTable) lookup(ident string) (*Knob, bool) {
	if knob, ok := t.byIdent.Load(ident); ok {
		return knob, true
	}

	return t.byName.Load(ident)
}
