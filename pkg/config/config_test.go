package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgogulapati/gherkins/pkg/config"
)

func writePlan(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const validPlan = `
hosts:
  web:
    host: 203.0.113.10
    user: deploy
    keyFile: ./credentials/ssh_key.pem
stages:
  - name: Git pull code to local machine
    script: |
      cd ./repo
      git pull
  - name: Copy code files to server
    target: web
    copy:
      - local: ./repo
        remote: /home/deploy/temp
    script: |
      sudo mv /home/deploy/temp/* /opt/app
  - name: Run backend
    target: web
    script: sudo systemctl restart backend
`

func TestLoadValidPlan(t *testing.T) {
	plan, err := config.Load(writePlan(t, validPlan))
	require.NoError(t, err)

	require.Len(t, plan.Stages, 3)
	assert.Equal(t, "Git pull code to local machine", plan.Stages[0].Name)
	assert.True(t, plan.Stages[0].IsLocal())
	assert.False(t, plan.Stages[1].IsLocal())
	assert.Equal(t, "web", plan.Stages[1].Target)
	require.Len(t, plan.Stages[1].Copy, 1)
	assert.Equal(t, "/home/deploy/temp", plan.Stages[1].Copy[0].Remote)

	web := plan.Hosts["web"]
	assert.Equal(t, "203.0.113.10", web.Host)
	assert.Equal(t, "deploy", web.User)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := config.Load(writePlan(t, "stages: ["))
	assert.ErrorContains(t, err, "parse plan")
}

func TestValidateRejectsUnknownTarget(t *testing.T) {
	_, err := config.Load(writePlan(t, `
stages:
  - name: Deploy
    target: ghost
    script: uptime
`))
	assert.ErrorContains(t, err, `unknown host "ghost"`)
}

func TestValidateRejectsEmptyStageList(t *testing.T) {
	_, err := config.Load(writePlan(t, `
hosts:
  web:
    host: 203.0.113.10
    user: deploy
    keyFile: key.pem
`))
	assert.ErrorContains(t, err, "plan validation failed")
}

func TestValidateRejectsHostWithoutUser(t *testing.T) {
	_, err := config.Load(writePlan(t, `
hosts:
  web:
    host: 203.0.113.10
    keyFile: key.pem
stages:
  - name: Deploy
    target: web
    script: uptime
`))
	assert.ErrorContains(t, err, "plan validation failed")
}

func TestValidateRejectsCopyOnLocalStage(t *testing.T) {
	_, err := config.Load(writePlan(t, `
stages:
  - name: Stage files
    copy:
      - local: ./repo
        remote: /opt/app
`))
	assert.ErrorContains(t, err, "copy steps need a remote target")
}

func TestValidateRejectsStageWithNoWork(t *testing.T) {
	_, err := config.Load(writePlan(t, `
hosts:
  web:
    host: 203.0.113.10
    user: deploy
    keyFile: key.pem
stages:
  - name: Idle
    target: web
`))
	assert.ErrorContains(t, err, "neither a script nor copy steps")
}
