// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/adapters/internal/adapter"
	"github.com/FerretDB/adapters/internal/util/lazyerrors"
)

// filter returns indexes of rows matching the compiled where condition.
//
// The caller must hold the lock.
func (p *Prepared) filter(t *table, params []any) ([]int, error) {
	var res []int

	for i, row := range t.rows {
		ok, err := p.where(row, params)
		if err != nil {
			return nil, err
		}

		if ok {
			res = append(res, i)
		}
	}

	return res, nil
}

// readAll executes read_all query.
func (a *memoryAdapter) readAll(p *Prepared, params *adapter.ExecuteParams[*Prepared, *Token]) (*adapter.ExecuteResult, error) {
	if len(params.Meta.Fields) != len(p.sel) {
		return nil, lazyerrors.Errorf("query selects %d fields, meta has %d", len(p.sel), len(params.Meta.Fields))
	}

	a.rw.RLock()

	t, err := a.tableByKey(p.table)
	if err != nil {
		a.rw.RUnlock()
		return nil, err
	}

	idx, err := p.filter(t, params.Params)
	if err != nil {
		a.rw.RUnlock()
		return nil, err
	}

	// rows are immutable once written, so they may be used after unlocking
	rows := make([]adapter.Fields, len(idx))
	for i, j := range idx {
		rows[i] = t.rows[j]
	}

	a.rw.RUnlock()

	if len(p.order) > 0 {
		slices.SortStableFunc(rows, func(a, b adapter.Fields) int {
			for _, o := range p.order {
				c := sortValues(a[o.Field], b[o.Field])
				if o.Desc {
					c = -c
				}

				if c != 0 {
					return c
				}
			}

			return 0
		})
	}

	if rows, err = p.window(rows, params.Params); err != nil {
		return nil, err
	}

	res := &adapter.ExecuteResult{
		Count: int64(len(rows)),
		Rows:  make([][]any, len(rows)),
	}

	for i, row := range rows {
		vals := values(row, p.sel)

		if params.Processor != nil {
			for j, v := range vals {
				if vals[j], err = params.Processor(v, params.Meta.Fields[j]); err != nil {
					return nil, err
				}
			}
		}

		res.Rows[i] = vals
	}

	return res, nil
}

// window applies offset and limit.
func (p *Prepared) window(rows []adapter.Fields, params []any) ([]adapter.Fields, error) {
	if p.offset != nil {
		v, err := p.offset(params)
		if err != nil {
			return nil, err
		}

		offset, err := toInt(v)
		if err != nil {
			return nil, err
		}

		rows = rows[min(offset, len(rows)):]
	}

	if p.limit != nil {
		v, err := p.limit(params)
		if err != nil {
			return nil, err
		}

		limit, err := toInt(v)
		if err != nil {
			return nil, err
		}

		rows = rows[:min(limit, len(rows))]
	}

	return rows, nil
}

// updateAll executes update_all query.
func (a *memoryAdapter) updateAll(p *Prepared, params []any) (*adapter.ExecuteResult, error) {
	a.rw.Lock()
	defer a.rw.Unlock()

	t, err := a.tableByKey(p.table)
	if err != nil {
		return nil, err
	}

	idx, err := p.filter(t, params)
	if err != nil {
		return nil, err
	}

	set := make(adapter.Fields, len(p.updates))

	for _, u := range p.updates {
		v, err := u.value(params)
		if err != nil {
			return nil, err
		}

		set[u.field] = v
	}

	set = normalizeRow(set)
	updated := make([]adapter.Fields, len(idx))

	for i, j := range idx {
		row := maps.Clone(t.rows[j])
		maps.Copy(row, set)

		if err = a.checkRow(t, row, j); err != nil {
			return nil, err
		}

		if err = a.checkReferenced(t, t.rows[j], row); err != nil {
			return nil, err
		}

		updated[i] = row
	}

	for i, j := range idx {
		a.replaceRow(t, j, updated[i])
	}

	return &adapter.ExecuteResult{Count: int64(len(idx))}, nil
}

// deleteAll executes delete_all query.
func (a *memoryAdapter) deleteAll(p *Prepared, params []any) (*adapter.ExecuteResult, error) {
	a.rw.Lock()
	defer a.rw.Unlock()

	t, err := a.tableByKey(p.table)
	if err != nil {
		return nil, err
	}

	idx, err := p.filter(t, params)
	if err != nil {
		return nil, err
	}

	for _, j := range idx {
		if err = a.checkReferenced(t, t.rows[j], nil); err != nil {
			return nil, err
		}
	}

	t.deleteRows(idx)

	return &adapter.ExecuteResult{Count: int64(len(idx))}, nil
}

// tableByKey returns the table by its source string.
//
// The caller must hold the lock.
func (a *memoryAdapter) tableByKey(key string) (*table, error) {
	if a.tables == nil {
		return nil, lazyerrors.New("adapter is closed")
	}

	t := a.tables[key]
	if t == nil {
		return nil, lazyerrors.Errorf("table %q does not exist", key)
	}

	return t, nil
}
