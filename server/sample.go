package server

// SampleScore is the built-in example loaded by the "load sample"
// action: a short two-staff piano piece that also produces performance
// data through its midi block.
const SampleScore = `\version "2.20.0"

\header {
  title = "Ascension"
  subtitle = "An Epic Piano Journey"
  composer = "Composed for You"
}

\paper {
  #(set-paper-size "letter")
}

global = {
  \key d \major
  \time 4/4
  \tempo "With passion" 4 = 72
}

upper = \relative c'' {
  \global
  \clef treble

  \partial 4 a4\mp |
  <d fis a>2. <cis e a>4 |
  <b d g>2. <a d fis>4 |
  <g b e>2 <fis a d>2 |
  <e a cis>2. a,4\< |

  <d fis a>2.\mf <e g b>4 |
  <fis a d>2. <g b e>4 |
  <a cis e>2 <b d fis>2 |
  <a cis e>2. r4\! |

  d,4\mp\< fis a d |
  cis4. b8 a4 fis |
  b4. a8 g4 d |
  e4. fis8 g4\mf a\> |

  d,4\mp fis a d |
  e4. d8 cis4 a |
  b4. a8 g4 e |
  fis2\> d2\mp\! |

  \bar "|."
}

lower = \relative c {
  \global
  \clef bass

  \partial 4 r4 |
  d4 a' d, a' |
  g,4 d' g, d' |
  e,4 b' e, b' |
  a,4 e' a, e' |

  d4 a' d, a' |
  d,4 a' d, a' |
  a,4 e' a, e' |
  a,4 e' a, e' |

  d4 a' fis a |
  a,4 e' a, e' |
  g,4 d' g, d' |
  a4 e' a, e' |

  d4 a' fis a |
  a,4 e' a, e' |
  g,4 d' g, d' |
  a4 d fis a |

  \bar "|."
}

\score {
  \new PianoStaff <<
    \new Staff = "upper" \upper
    \new Staff = "lower" \lower
  >>
  \layout { }
  \midi { }
}
`
