package configuration_test

import (
	"testing"

	"github.com/bonsaibuild/bonsai/pkg/configuration"
	"github.com/stretchr/testify/require"
)

func TestConfiguration(t *testing.T) {
	t.Run("Equality", func(t *testing.T) {
		a := configuration.New(configuration.RoleTarget, map[string]map[string]string{
			"cpp":      {"compiler": "clang", "opt": "2"},
			"coverage": {"enabled": "false"},
		})
		b := configuration.New(configuration.RoleTarget, map[string]map[string]string{
			"coverage": {"enabled": "false"},
			"cpp":      {"opt": "2", "compiler": "clang"},
		})
		require.True(t, a.Equal(b))
		require.Equal(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("RoleAffectsEquality", func(t *testing.T) {
		params := map[string]map[string]string{"cpp": {"compiler": "clang"}}
		a := configuration.New(configuration.RoleTarget, params)
		b := configuration.New(configuration.RoleHost, params)
		require.False(t, a.Equal(b))
	})

	t.Run("ParameterAffectsEquality", func(t *testing.T) {
		a := configuration.New(configuration.RoleTarget, map[string]map[string]string{
			"cpp": {"compiler": "clang"},
		})
		b := configuration.New(configuration.RoleTarget, map[string]map[string]string{
			"cpp": {"compiler": "gcc"},
		})
		require.False(t, a.Equal(b))
	})

	t.Run("FingerprintStability", func(t *testing.T) {
		// The fingerprint acts as a cache key, so repeated
		// construction of the same configuration must yield
		// byte-identical fingerprints.
		for i := 0; i < 10; i++ {
			c := configuration.New(configuration.RoleTarget, map[string]map[string]string{
				"cpp":      {"compiler": "clang", "opt": "2"},
				"coverage": {"enabled": "true"},
			})
			require.Equal(
				t,
				configuration.New(configuration.RoleTarget, map[string]map[string]string{
					"cpp":      {"compiler": "clang", "opt": "2"},
					"coverage": {"enabled": "true"},
				}).Fingerprint(),
				c.Fingerprint(),
			)
		}
	})

	t.Run("Fragments", func(t *testing.T) {
		c := configuration.New(configuration.RoleTarget, map[string]map[string]string{
			"cpp": {"compiler": "clang"},
		})
		fragment, ok := c.GetFragment("cpp")
		require.True(t, ok)
		compiler, ok := fragment.Get("compiler")
		require.True(t, ok)
		require.Equal(t, "clang", compiler)

		_, ok = c.GetFragment("java")
		require.False(t, ok)
	})
}

func TestTransitioner(t *testing.T) {
	host := configuration.New(configuration.RoleHost, map[string]map[string]string{
		"platform": {"cpu": "x86_64"},
	})
	target := configuration.New(configuration.RoleTarget, map[string]map[string]string{
		"platform": {"cpu": "aarch64"},
	})
	transitioner := configuration.NewTransitioner(host)

	t.Run("Same", func(t *testing.T) {
		require.True(t, target.Equal(transitioner.Apply(target, configuration.TransitionSame)))
	})

	t.Run("Host", func(t *testing.T) {
		require.True(t, host.Equal(transitioner.Apply(target, configuration.TransitionHost)))
		// Host edges out of host configured targets stay in the
		// host configuration.
		require.True(t, host.Equal(transitioner.Apply(host, configuration.TransitionHost)))
	})

	t.Run("ParseTransitionKind", func(t *testing.T) {
		kind, err := configuration.ParseTransitionKind("host")
		require.NoError(t, err)
		require.Equal(t, configuration.TransitionHost, kind)
		_, err = configuration.ParseTransitionKind("exec")
		require.Error(t, err)
	})
}
