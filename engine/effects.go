package engine

// ============================================================================
// Effects
// ============================================================================
// The tick computes a list of paramWrites without touching the sink; this is
// the only place sink methods are called. A failing write disables its mapping
// until the active profile changes, and is logged exactly once. Toggle state
// only changes here, after the sink accepted the flip, so it always matches
// what the mixer was told.
// ============================================================================

// runWrites applies writes in order. Writes from mappings disabled earlier in
// the same batch are skipped.
func (e *Engine) runWrites(writes []paramWrite) {
	for _, w := range writes {
		if e.disabled[w.mappingID] {
			continue
		}

		if err := w.apply(e.sink, e.cfg.MasterDeck); err != nil {
			serr := &SinkError{MappingID: w.mappingID, Key: w.key, Err: err}
			e.disabled[w.mappingID] = true
			e.sinkErrors.Add(1)
			e.logger.Error("audio sink rejected write, disabling mapping",
				"mapping", w.mappingID,
				"control", w.key.String(),
				"err", serr,
			)
			continue
		}

		if w.key.Control.IsToggle() {
			e.toggles[w.key] = w.on
			continue
		}
		if st, ok := e.states[w.mappingID]; ok {
			st.emitted = true
			st.lastEmitted = w.value
		}
	}
}
