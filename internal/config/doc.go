// Package config loads the mushroom project configuration.
//
// The configuration lives in mushroom.json (or mushroom.yaml) at the project
// root. MUSHROOM_* environment variables override file values.
//
// # Configuration File Structure
//
//	{
//	  "name": "myproject",
//	  "debug": true,
//	  "installedApps": ["clock", "echo", "presence"],
//	  "dev": {
//	    "host": "127.0.0.1",
//	    "port": 8000,
//	    "proxy": {
//	      "/api": "http://localhost:9000"
//	    }
//	  },
//	  "static": {
//	    "dir": "static",
//	    "prefix": "/static/"
//	  },
//	  "mushroom": {
//	    "port": 8100,
//	    "transports": ["ws", "poll"],
//	    "rateLimit": {"rps": 20, "burst": 40},
//	    "collisions": "last-write-wins"
//	  },
//	  "metrics": {"enabled": true}
//	}
//
// # Environment
//
//	MUSHROOM_DEBUG            debug
//	MUSHROOM_INSTALLED_APPS   installedApps, comma separated
//	MUSHROOM_DEV_HOST         dev.host
//	MUSHROOM_DEV_PORT         dev.port
//	MUSHROOM_IPV6             dev.ipv6
//	MUSHROOM_STATIC_DIR       static.dir
//	MUSHROOM_PORT             mushroom.port
//	MUSHROOM_PUBLIC_URL       mushroom.publicUrl
//	MUSHROOM_COLLISIONS       mushroom.collisions
//	MUSHROOM_METRICS          metrics.enabled
//
// # Usage
//
//	cfg, err := config.LoadOrDefault()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Mushroom port:", cfg.MushroomPort())
package config
