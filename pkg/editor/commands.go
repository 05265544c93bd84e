package editor

import (
	"github.com/chazu/partsmith/pkg/scene"
)

// insertCmd adds an object at a fixed position. The object value is built
// once, so redo restores the same id.
type insertCmd struct {
	store *scene.Store
	obj   *scene.Object
	index int
	label string
}

func (c *insertCmd) Do() error {
	c.store.Insert(c.obj, c.index)
	return nil
}

func (c *insertCmd) Undo() error {
	_, _, err := c.store.Remove(c.obj.ID)
	return err
}

func (c *insertCmd) Label() string { return c.label }

// removeCmd deletes an object and remembers where it was.
type removeCmd struct {
	store *scene.Store
	id    scene.ID
	obj   *scene.Object
	index int
}

func (c *removeCmd) Do() error {
	obj, index, err := c.store.Remove(c.id)
	if err != nil {
		return err
	}
	c.obj, c.index = obj, index
	return nil
}

func (c *removeCmd) Undo() error {
	c.store.Insert(c.obj, c.index)
	return nil
}

func (c *removeCmd) Label() string { return "remove " + c.obj.Name }

// replaceCmd swaps one version of an object for another. Renames, recolours,
// transforms and committed recompilations all use it.
type replaceCmd struct {
	store  *scene.Store
	before *scene.Object
	after  *scene.Object
	label  string
}

func (c *replaceCmd) Do() error   { return c.store.Replace(c.after) }
func (c *replaceCmd) Undo() error { return c.store.Replace(c.before) }

func (c *replaceCmd) Label() string { return c.label }

// combineCmd inserts a boolean result and hides its operands.
type combineCmd struct {
	store    *scene.Store
	result   *scene.Object
	operands []*scene.Object
	label    string
}

// Do hides every operand or none of them.
func (c *combineCmd) Do() error {
	for i, op := range c.operands {
		if err := c.store.Replace(op.With(func(o *scene.Object) { o.Hidden = true })); err != nil {
			for _, done := range c.operands[:i] {
				_ = c.store.Replace(done)
			}
			return err
		}
	}
	c.store.Insert(c.result, c.store.Len())
	return nil
}

func (c *combineCmd) Undo() error {
	if _, _, err := c.store.Remove(c.result.ID); err != nil {
		return err
	}
	for _, op := range c.operands {
		if err := c.store.Replace(op); err != nil {
			return err
		}
	}
	return nil
}

func (c *combineCmd) Label() string { return c.label }
