package models_test

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

func TestDeployPropertiesValidate(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		about           string
		properties      models.DeployProperties
		requirePlatform bool
		expectError     string
	}{{
		about:           "valid",
		properties:      models.DeployProperties{PlatformName: "test", ReleaseName: "log-sink-app"},
		requirePlatform: true,
	}, {
		about:       "missing release name",
		properties:  models.DeployProperties{PlatformName: "test"},
		expectError: "validation error: releaseName is required",
	}, {
		about:       "uppercase release name",
		properties:  models.DeployProperties{ReleaseName: "Log"},
		expectError: `validation error: releaseName "Log" must be lowercase alphanumerics and dashes`,
	}, {
		about:       "trailing dash",
		properties:  models.DeployProperties{ReleaseName: "log-"},
		expectError: `.*must be lowercase alphanumerics and dashes`,
	}, {
		about:       "too long",
		properties:  models.DeployProperties{ReleaseName: strings.Repeat("a", 54)},
		expectError: `.*longer than 53 characters`,
	}, {
		about:           "platform required",
		properties:      models.DeployProperties{ReleaseName: "log"},
		requirePlatform: true,
		expectError:     "validation error: platformName is required",
	}, {
		about:      "platform optional",
		properties: models.DeployProperties{ReleaseName: "log"},
	}, {
		about:       "empty value key",
		properties:  models.DeployProperties{ReleaseName: "log", Values: map[string]string{"": "x"}},
		expectError: "validation error: values must not contain an empty key",
	}}

	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			err := test.properties.Validate(test.requirePlatform)
			if test.expectError == "" {
				c.Assert(err, qt.IsNil)
				return
			}
			c.Assert(err, qt.ErrorMatches, test.expectError)
			c.Assert(err, qt.ErrorIs, models.ErrValidation)
		})
	}
}

func TestUpdatePropertiesValidate(t *testing.T) {
	c := qt.New(t)

	valid := models.UpdateProperties{
		PackageID:  "p1",
		OldVersion: "1.0.0",
		NewVersion: "1.0.1",
		Config:     models.DeployProperties{ReleaseName: "log-sink-app"},
	}
	c.Assert(valid.Validate(), qt.IsNil)

	sameVersion := valid
	sameVersion.NewVersion = "1.0.0"
	c.Assert(sameVersion.Validate(), qt.ErrorMatches, `validation error: newVersion must differ from oldVersion "1.0.0"`)

	noPackage := valid
	noPackage.PackageID = ""
	c.Assert(noPackage.Validate(), qt.ErrorIs, models.ErrValidation)

	noRelease := valid
	noRelease.Config.ReleaseName = ""
	c.Assert(noRelease.Validate(), qt.ErrorMatches, "validation error: releaseName is required")
}

func TestUndeployPropertiesValidate(t *testing.T) {
	c := qt.New(t)

	c.Assert(models.UndeployProperties{ReleaseName: "log", Version: "1.0.0"}.Validate(), qt.IsNil)
	c.Assert(models.UndeployProperties{ReleaseName: "log"}.Validate(), qt.ErrorMatches, "validation error: version is required")
	c.Assert(models.UndeployProperties{Version: "1.0.0"}.Validate(), qt.ErrorIs, models.ErrValidation)
}

func TestReleaseClone(t *testing.T) {
	c := qt.New(t)

	original := &models.Release{
		Name:    "log",
		Version: "1.0.0",
		Pkg:     models.PackageMetadata{Name: "log", Tags: []string{"a"}},
		Values:  map[string]string{"k": "v"},
	}
	clone := original.Clone()
	clone.Values["k"] = "changed"
	clone.Pkg.Tags[0] = "changed"

	c.Assert(original.Values["k"], qt.Equals, "v")
	c.Assert(original.Pkg.Tags[0], qt.Equals, "a")
}
