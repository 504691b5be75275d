package invariant

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateCheck(t *testing.T) {
	g := NewGate("LANDING.EVENTS")

	t.Run("allows derived objects", func(t *testing.T) {
		for _, stmt := range []string{
			"CREATE OR REPLACE VIEW activity.vw_top AS SELECT 1",
			"CREATE MATERIALIZED VIEW activity.mv_daily AS SELECT 1",
			"CREATE DYNAMIC TABLE activity.dt_fresh TARGET_LAG = '15 minutes' AS SELECT 1",
			"CREATE TASK refresh_task AS CALL do_refresh()",
			"CREATE STAGE dash_apps",
			"CREATE OR REPLACE PROCEDURE landing.log_events(payload VARIANT) AS BEGIN RETURN 1; END",
			"SELECT action, COUNT(*) FROM activity.events GROUP BY action",
			"DROP VIEW IF EXISTS activity.sentinel_probe_1",
		} {
			assert.NoError(t, g.Check(stmt), stmt)
		}
	})

	t.Run("rejects a second base table", func(t *testing.T) {
		err := g.Check("CREATE TABLE claude_bi.analytics.results (id INT)")
		var v *Violation
		require.ErrorAs(t, err, &v)
		assert.Equal(t, ExtraTable, v.Kind)
	})

	t.Run("rejects variants of create table", func(t *testing.T) {
		for _, stmt := range []string{
			"create or replace table scratch (x int)",
			"CREATE TRANSIENT TABLE tmp_load AS SELECT * FROM activity.events",
			"CREATE TABLE IF NOT EXISTS side_state (k TEXT)",
		} {
			var v *Violation
			require.ErrorAs(t, g.Check(stmt), &v, stmt)
			assert.Equal(t, ExtraTable, v.Kind, stmt)
		}
	})

	t.Run("allows recreating the landing table itself", func(t *testing.T) {
		assert.NoError(t, g.Check("CREATE TABLE IF NOT EXISTS LANDING.EVENTS (EVENT_ID TEXT)"))
	})

	t.Run("rejects writes outside landing", func(t *testing.T) {
		for _, stmt := range []string{
			"INSERT INTO activity.summary VALUES (1)",
			"UPDATE sample.orders SET status = 'done'",
			"DELETE FROM activity.events WHERE 1=1",
			"MERGE INTO reporting.cube USING t ON 1=1",
			"TRUNCATE TABLE sample.orders",
			"DROP TABLE sample.orders",
		} {
			var v *Violation
			require.ErrorAs(t, g.Check(stmt), &v, stmt)
			assert.Equal(t, WriteOutsideLanding, v.Kind, stmt)
		}
	})

	t.Run("allows the landing insert path", func(t *testing.T) {
		assert.NoError(t, g.Check("INSERT INTO LANDING.EVENTS (EVENT_ID) VALUES ($1)"))
		assert.NoError(t, g.Check("INSERT INTO EVENTS (EVENT_ID) VALUES ($1)"))
	})

	t.Run("ignores statement text inside strings and comments", func(t *testing.T) {
		assert.NoError(t, g.Check(
			"SELECT 'CREATE TABLE evil (x int)' AS advice -- CREATE TABLE also_evil (y int)"))
		assert.NoError(t, g.Check(
			"SELECT 1 /* INSERT INTO side_channel VALUES (1) */ FROM activity.events"))
	})

	t.Run("violation formats object", func(t *testing.T) {
		err := g.Check("CREATE TABLE rogue (x int)")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ROGUE")
		var v *Violation
		assert.True(t, errors.As(err, &v))
	})
}

func TestNormalize(t *testing.T) {
	norm := Normalize("insert into  t -- comment\nvalues ('don''t INSERT INTO x')")
	assert.Equal(t, "INSERT INTO T VALUES ('')", norm)
}
