// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "btsink")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "btsink.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)

	viper.SetDefault("audio.poolbuffers", 16)
	viper.SetDefault("audio.buffersize", 4096)
	viper.SetDefault("audio.framebudget", 1024)
	viper.SetDefault("audio.defaultsamplerate", 44100)
	viper.SetDefault("audio.usestaging", true)
	viper.SetDefault("audio.swapchannels", true)
	viper.SetDefault("audio.device", "")
	viper.SetDefault("audio.writetimeout", 100*time.Millisecond)

	viper.SetDefault("dsp.equalizer.bass", 0.0)
	viper.SetDefault("dsp.equalizer.mid", 0.0)
	viper.SetDefault("dsp.equalizer.treble", 0.0)
	viper.SetDefault("dsp.basscomp", true)
	viper.SetDefault("dsp.spatial", false)
	viper.SetDefault("dsp.analysis", true)
	viper.SetDefault("dsp.bypass", true)
	viper.SetDefault("dsp.crossover.lowpassfreq", 200.0)
	viper.SetDefault("dsp.crossover.highpassfreq", 200.0)
	viper.SetDefault("dsp.crossover.bassboost", false)
	viper.SetDefault("dsp.crossover.boostfreq", 100.0)
	viper.SetDefault("dsp.crossover.boostgain", 6.0)
	viper.SetDefault("dsp.crossover.flip", false)
	viper.SetDefault("dsp.volume", 100)

	viper.SetDefault("overlay.ringframes", 12288)
	viper.SetDefault("overlay.ducklevel", 0.2)
	viper.SetDefault("overlay.soundsdir", "sounds/")
	viper.SetDefault("overlay.cachettl", 10*time.Minute)
	viper.SetDefault("overlay.volume", 1.0)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8090)
	viper.SetDefault("api.ratelimit", 20)
	viper.SetDefault("api.basicauth.enabled", false)
	viper.SetDefault("api.basicauth.username", "")
	viper.SetDefault("api.basicauth.passwordhash", "")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "btsink")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.interval", 10*time.Second)
	viper.SetDefault("mqtt.controltopic", "btsink/control")
	viper.SetDefault("mqtt.discovery", false)

	viper.SetDefault("datastore.snapshotinterval", time.Minute)
	viper.SetDefault("datastore.sqlite.enabled", true)
	viper.SetDefault("datastore.sqlite.path", "btsink.db")
	viper.SetDefault("datastore.mysql.enabled", false)
	viper.SetDefault("datastore.mysql.username", "btsink")
	viper.SetDefault("datastore.mysql.password", "")
	viper.SetDefault("datastore.mysql.database", "btsink")
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", "3306")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", 30*time.Second)
	viper.SetDefault("monitor.cpuwarning", 85.0)
	viper.SetDefault("monitor.memwarning", 90.0)
	viper.SetDefault("monitor.dropwarning", 100)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.mininterval", 5*time.Minute)

	viper.SetDefault("quiethours.enabled", false)
	viper.SetDefault("quiethours.latitude", 0.0)
	viper.SetDefault("quiethours.longitude", 0.0)
	viper.SetDefault("quiethours.maxvolume", 60)
	viper.SetDefault("quiethours.bassreduction", 4.0)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
